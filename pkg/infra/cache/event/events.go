package event

import "reflect"

type Event interface {
	Type() string
}

var (
	RulesReloadedEventType    = "RulesReloadedEvent"
	GeoPolicyUpdatedEventType = "GeoPolicyUpdatedEvent"
)

var Registry = map[string]reflect.Type{
	RulesReloadedEventType:    reflect.TypeOf(RulesReloadedEvent{}),
	GeoPolicyUpdatedEventType: reflect.TypeOf(GeoPolicyUpdatedEvent{}),
}
