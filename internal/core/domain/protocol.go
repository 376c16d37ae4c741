package domain

// Inbound message discriminators. Unknown types are dropped by the dispatcher.
const (
	TypeRegister    = "register"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeLocation    = "location"
	TypeNearby      = "nearby"
	TypeTrace       = "trace"
	TypeUnregister  = "unregister"
)

// Outbound-only discriminators. Location, nearby and trace reuse the inbound
// names on the way out.
const (
	TypeRegistered   = "registered"
	TypeUnregistered = "unregistered"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

// Envelope carries only the discriminator; the dispatcher re-decodes the raw
// frame into the concrete message once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterMessage binds the sending connection to an identity.
type RegisterMessage struct {
	Identity string `json:"identity" validate:"required"`
}

// UnregisterMessage releases an identity binding. Rejected when the sending
// connection is not the one currently bound.
type UnregisterMessage struct {
	Identity string `json:"identity" validate:"required"`
}

type SubscribeMessage struct {
	Topic string `json:"topic" validate:"required"`
}

type UnsubscribeMessage struct {
	Topic string `json:"topic" validate:"required"`
}

// LocationMessage reports a fresh position for an identity. Coordinates are
// pointers so that 0 is a valid value and absence is still detectable.
type LocationMessage struct {
	Identity string   `json:"identity" validate:"required"`
	Lat      *float64 `json:"lat" validate:"required"`
	Lng      *float64 `json:"lng" validate:"required"`
}

// NearbyMessage asks who is around a point and installs a standing watcher
// for the identity when one is given.
type NearbyMessage struct {
	Lat      *float64 `json:"lat" validate:"required"`
	Lng      *float64 `json:"lng" validate:"required"`
	Radius   *float64 `json:"radius,omitempty"`
	Category string   `json:"category,omitempty"`
	Identity string   `json:"identity,omitempty"`
}

// TraceMessage starts proximity monitoring between two identities, stopping
// once they come within the threshold of each other.
type TraceMessage struct {
	Identity      string   `json:"identity" validate:"required"`
	OtherIdentity string   `json:"otherIdentity" validate:"required"`
	Threshold     *float64 `json:"threshold,omitempty"`
}

// RegisteredEvent acknowledges a successful register.
type RegisteredEvent struct {
	Type     string `json:"type"` // "registered"
	Identity string `json:"identity"`
}

// UnregisteredEvent acknowledges an unregister, and is also the eviction
// notice pushed to a connection displaced by a newer register.
type UnregisteredEvent struct {
	Type     string `json:"type"` // "unregistered"
	Identity string `json:"identity"`
}

type SubscribedEvent struct {
	Type  string `json:"type"` // "subscribed"
	Topic string `json:"topic"`
}

type UnsubscribedEvent struct {
	Type  string `json:"type"` // "unsubscribed"
	Topic string `json:"topic"`
}

// LocationEvent is broadcast on the identity's own topic whenever it moves.
type LocationEvent struct {
	Type      string  `json:"type"` // "location"
	Identity  string  `json:"identity"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearbyEvent answers a nearby request and refreshes standing watchers.
type NearbyEvent struct {
	Type  string       `json:"type"` // "nearby"
	Users []NearbyUser `json:"users"`
}

// TraceStatus describes how many members of a traced pair are online.
type TraceStatus string

const (
	TraceSingleUser TraceStatus = "single_user"
	TraceBothOnline TraceStatus = "both_online"
)

// TraceUser is one member of a traced pair as seen in a trace update.
// IsItYou is true only for the first identity of the canonical pair ordering.
type TraceUser struct {
	Identity  string  `json:"identity"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsItYou   bool    `json:"is_it_you"`
}

// TraceEvent is a proximity update for a traced pair. Distance is zero while
// only one member is online.
type TraceEvent struct {
	Type     string      `json:"type"` // "trace"
	Users    []TraceUser `json:"users"`
	Distance float64     `json:"distance"`
	Status   TraceStatus `json:"status"`
}

// ErrorEvent is the only error surface exposed to a remote peer.
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
