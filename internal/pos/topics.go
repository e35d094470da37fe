package pos

// Realtime topics.
const (
	TopicOrders        = "orders"
	TopicKitchen       = "kitchen"
	TopicTables        = "tables"
	TopicNotifications = "notifications"
)

var Topics = []string{TopicOrders, TopicKitchen, TopicTables, TopicNotifications}

// TopicsFor routes an event kind to the topics that observe it.
func TopicsFor(kind string) []string {
	switch kind {
	case EventOrderCreated:
		return []string{TopicOrders, TopicKitchen}
	case EventOrderItemsAdded, EventOrderItemStatusChanged:
		return []string{TopicKitchen, TopicOrders}
	case EventOrderStatusChanged, EventOrderTableChanged, EventPaymentSettled:
		return []string{TopicOrders}
	case EventTableStatusChanged:
		return []string{TopicTables}
	default:
		return []string{TopicNotifications}
	}
}

func ValidTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// PartitionKey keeps all events of one aggregate on one partition.
func PartitionKey(aggregateID string) []byte { return []byte(aggregateID) }
