package pos

type TableStatus string

const (
	TableAvailable TableStatus = "AVAILABLE"
	TableOccupied  TableStatus = "OCCUPIED"
	TableReserved  TableStatus = "RESERVED"
	TableMerged    TableStatus = "MERGED"
)

type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderServing  OrderStatus = "SERVING"
	OrderPaid     OrderStatus = "PAID"
	OrderCanceled OrderStatus = "CANCELED"
)

type ItemStatus string

const (
	ItemNew           ItemStatus = "NEW"
	ItemSentToKitchen ItemStatus = "SENT_TO_KITCHEN"
	ItemCooking       ItemStatus = "COOKING"
	ItemDone          ItemStatus = "DONE"
	ItemCanceled      ItemStatus = "CANCELED"
)

// Transition tables. Anything not listed is rejected.

var tableNext = map[TableStatus]map[TableStatus]bool{
	TableAvailable: {TableOccupied: true, TableReserved: true, TableMerged: true},
	TableOccupied:  {TableAvailable: true, TableMerged: true},
	TableReserved:  {TableAvailable: true},
	TableMerged:    {TableAvailable: true},
}

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderNew:      {OrderServing: true, OrderPaid: true, OrderCanceled: true},
	OrderServing:  {OrderPaid: true, OrderCanceled: true},
	OrderPaid:     {},
	OrderCanceled: {},
}

var itemNext = map[ItemStatus]map[ItemStatus]bool{
	ItemNew:           {ItemSentToKitchen: true, ItemCanceled: true},
	ItemSentToKitchen: {ItemCooking: true, ItemCanceled: true},
	ItemCooking:       {ItemDone: true, ItemCanceled: true},
	ItemDone:          {},
	ItemCanceled:      {},
}

func (s TableStatus) Valid() bool {
	_, ok := tableNext[s]
	return ok
}

func (s OrderStatus) Valid() bool {
	_, ok := orderNext[s]
	return ok
}

func (s ItemStatus) Valid() bool {
	_, ok := itemNext[s]
	return ok
}

func (s TableStatus) CanTransition(to TableStatus) bool { return tableNext[s][to] }

// CanTransition reports whether the order state machine allows from -> to.
// NEW -> PAID is listed for walk-up settlement; whether it is used is a policy
// decision made by the settlement use case.
func (s OrderStatus) CanTransition(to OrderStatus) bool { return orderNext[s][to] }

func (s ItemStatus) CanTransition(to ItemStatus) bool { return itemNext[s][to] }

func (s OrderStatus) Terminal() bool { return s == OrderPaid || s == OrderCanceled }

func (s ItemStatus) Terminal() bool { return s == ItemDone || s == ItemCanceled }

// Open reports whether an order still holds its table.
func (s OrderStatus) Open() bool { return s == OrderNew || s == OrderServing }

type VoucherStatus string

const (
	VoucherActive   VoucherStatus = "ACTIVE"
	VoucherInactive VoucherStatus = "INACTIVE"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

// TableChangeReason tags TableStatusChanged events for realtime consumers.
type TableChangeReason string

const (
	ReasonOrderCreated          TableChangeReason = "ORDER_CREATED"
	ReasonPaymentDone           TableChangeReason = "PAYMENT_DONE"
	ReasonItemStatusChanged     TableChangeReason = "ITEM_STATUS_CHANGED"
	ReasonTableStructureChanged TableChangeReason = "TABLE_STRUCTURE_CHANGED"
)
