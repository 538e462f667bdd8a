package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusPreparing  = "preparing"
	OrderStatusReady      = "ready"
	OrderStatusDelivering = "delivering"
	OrderStatusCompleted  = "completed"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleCustomer = "customer"
	UserRoleAdmin    = "admin"
	UserRoleKitchen  = "kitchen"
	UserRoleCourier  = "courier"
)

const (
	DeliveryTypeDelivery = "delivery"
	DeliveryTypePickup   = "pickup"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)

const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.status_changed"
)
