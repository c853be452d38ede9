// Package script runs Lua scripts against a GATT client. Scripts see a
// global `gatt` table whose functions block until the matching completion,
// plus gatt.on/gatt.wait for event-driven code.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/client"
)

// DefaultTimeout bounds each blocking gatt.* call.
const DefaultTimeout = 10 * time.Second

// Error is a failed script run.
type Error struct {
	Source  string
	Line    int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("lua error (%s, line %d): %s", e.Source, e.Line, e.Message)
	}
	return fmt.Sprintf("lua error (%s): %s", e.Source, e.Message)
}

// Engine owns one Lua state bound to a client. It is not safe for
// concurrent Run calls; they are serialized.
type Engine struct {
	client  *client.Client
	logger  *logrus.Logger
	out     io.Writer
	timeout time.Duration

	mu     sync.Mutex
	state  *lua.State
	ctx    context.Context
	events *client.Subscription // created by the first gatt.on
	// handlers holds registry refs per event kind.
	handlers map[client.EventKind][]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds every blocking gatt.* call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// New creates an engine. print() output goes to out.
func New(c *client.Client, logger *logrus.Logger, out io.Writer, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if out == nil {
		out = io.Discard
	}
	e := &Engine{
		client:   c,
		logger:   logger,
		out:      out,
		timeout:  DefaultTimeout,
		handlers: make(map[client.EventKind][]int),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	e.registerAPI()
	return e
}

// RunFile loads and runs a script file.
func (e *Engine) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	return e.Run(ctx, string(src), path)
}

// Run executes src. Blocking gatt.* calls are bounded by ctx and the
// engine timeout.
func (e *Engine) Run(ctx context.Context, src, name string) error {
	if strings.TrimSpace(src) == "" {
		return &Error{Source: name, Message: "empty script"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errors.New("script engine closed")
	}

	e.ctx = ctx
	defer func() { e.ctx = nil }()

	e.logger.WithField("script", name).Debug("Running script")
	if err := e.state.DoString(src); err != nil {
		e.state.SetTop(0)
		return parseError(name, err.Error())
	}
	return nil
}

// SetArgs exposes args to scripts as the global table arg, indexed from 1.
func (e *Engine) SetArgs(args []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return
	}
	L := e.state
	L.NewTable()
	for i, a := range args {
		L.PushInteger(int64(i + 1))
		L.PushString(a)
		L.SetTable(-3)
	}
	L.SetGlobal("arg")
}

// Close releases the Lua state and the event subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return
	}
	if e.events != nil {
		e.events.Close()
	}
	e.state.Close()
	e.state = nil
}

var chunkError = regexp.MustCompile(`^\[string ".*?"\]:(\d+): (?s:(.*))$`)

// parseError splits `[string "..."]:3: message` into its line and message.
func parseError(source, msg string) *Error {
	out := &Error{Source: source, Message: msg}
	if m := chunkError.FindStringSubmatch(msg); m != nil {
		out.Line, _ = strconv.Atoi(m[1])
		out.Message = strings.TrimSpace(m[2])
	}
	return out
}

func (e *Engine) registerPrint() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch L.Type(i) {
			case lua.LUA_TNIL:
				parts = append(parts, "nil")
			case lua.LUA_TBOOLEAN:
				parts = append(parts, strconv.FormatBool(L.ToBoolean(i)))
			case lua.LUA_TNUMBER:
				parts = append(parts, strconv.FormatFloat(L.ToNumber(i), 'g', -1, 64))
			case lua.LUA_TSTRING:
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				if err := L.Call(1, 1); err != nil {
					parts = append(parts, "?")
					continue
				}
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		fmt.Fprintln(e.out, strings.Join(parts, "\t"))
		return 0
	})
	L.SetGlobal("print")
}

// opContext bounds one blocking call.
func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	parent := e.ctx
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, e.timeout)
}
