package gatt

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Subscription is an active notification registration.
type Subscription struct {
	Characteristic int
	UUID           UUID
}

// NotificationRegistry is the ordered set of characteristics with an active
// notification registration on one device, in registration order.
// Membership only changes on the stack's registration confirmation.
type NotificationRegistry struct {
	subs *orderedmap.OrderedMap[int, Subscription]
}

func newNotificationRegistry() *NotificationRegistry {
	return &NotificationRegistry{subs: orderedmap.New[int, Subscription]()}
}

// Add records a confirmed registration and reports whether it was new.
func (n *NotificationRegistry) Add(index int, uuid UUID) bool {
	_, present := n.subs.Set(index, Subscription{Characteristic: index, UUID: uuid})
	return !present
}

// Remove drops a registration and reports whether it was present.
func (n *NotificationRegistry) Remove(index int) bool {
	_, present := n.subs.Delete(index)
	return present
}

func (n *NotificationRegistry) Contains(index int) bool {
	_, ok := n.subs.Get(index)
	return ok
}

func (n *NotificationRegistry) Len() int {
	return n.subs.Len()
}

// List returns the subscriptions in registration order.
func (n *NotificationRegistry) List() []Subscription {
	out := make([]Subscription, 0, n.subs.Len())
	for pair := n.subs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
