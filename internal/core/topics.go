// services/ess/internal/core/topics.go
package core

import (
	"fmt"
	"strings"
)

// subscribeCategories are the four inbound categories, in subscription order.
var subscribeCategories = []Category{
	CategoryKeepalive,
	CategoryState,
	CategoryEvent,
	CategoryResponse,
}

// publishCategories are the two outbound categories.
var publishCategories = []Category{
	CategoryConfirm,
	CategoryRequest,
}

// TopicTable resolves publish/subscribe topics for the station link.
//
// In derived mode topics follow {productCode}/{deviceCode}/{S2M|M2S}/{category};
// S2M for inbound (station to manager), M2S for outbound. In explicit mode an
// override table is consulted, falling back to default/{category} for unset
// slots. The table is not safe for concurrent use; the session mutex guards it.
type TopicTable struct {
	productCode string
	deviceCode  string
	derived     bool
	overrides   map[Direction]map[Category]string
}

// NewTopicTable creates a topic table for one station.
func NewTopicTable(productCode, deviceCode string, derived bool) *TopicTable {
	overrides := map[Direction]map[Category]string{
		DirectionSubscribe: make(map[Category]string),
		DirectionPublish:   make(map[Category]string),
	}
	for _, cat := range subscribeCategories {
		overrides[DirectionSubscribe][cat] = ""
	}
	for _, cat := range publishCategories {
		overrides[DirectionPublish][cat] = ""
	}

	return &TopicTable{
		productCode: productCode,
		deviceCode:  deviceCode,
		derived:     derived,
		overrides:   overrides,
	}
}

// Resolve returns the topic for a category/direction pair.
func (t *TopicTable) Resolve(cat Category, dir Direction) string {
	if t.derived {
		segment := "M2S"
		if dir == DirectionSubscribe {
			segment = "S2M"
		}
		return fmt.Sprintf("%s/%s/%s/%s", t.productCode, t.deviceCode, segment, cat)
	}

	if topic := t.overrides[dir][cat]; topic != "" {
		return topic
	}
	return fmt.Sprintf("default/%s", cat)
}

// SetOverride pins an explicit topic for a recognized category/direction
// slot. Unrecognized slots are rejected without mutating the table.
func (t *TopicTable) SetOverride(cat Category, dir Direction, topic string) error {
	slots, ok := t.overrides[dir]
	if !ok {
		return ErrUnknownTopicSlot
	}
	if _, ok := slots[cat]; !ok {
		return ErrUnknownTopicSlot
	}
	slots[cat] = topic
	return nil
}

// SetDerived switches between derived and explicit resolution. The caller is
// responsible for resubscribing under the newly resolved topics.
func (t *TopicTable) SetDerived(derived bool) {
	t.derived = derived
}

// Derived reports whether topics are derived from the station identity.
func (t *TopicTable) Derived() bool {
	return t.derived
}

// Classify maps an inbound topic to its category. In explicit mode the topic
// must match a resolved subscribe topic exactly; in derived mode a category
// token substring match is used.
func (t *TopicTable) Classify(topic string) (Category, bool) {
	for _, cat := range subscribeCategories {
		if t.derived {
			if strings.Contains(topic, string(cat)) {
				return cat, true
			}
		} else if t.Resolve(cat, DirectionSubscribe) == topic {
			return cat, true
		}
	}
	return "", false
}

// SubscribeTopics returns the resolved topics for the four inbound categories.
func (t *TopicTable) SubscribeTopics() []string {
	topics := make([]string, 0, len(subscribeCategories))
	for _, cat := range subscribeCategories {
		topics = append(topics, t.Resolve(cat, DirectionSubscribe))
	}
	return topics
}
