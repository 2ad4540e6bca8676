package channel

type Channel string

const PolicyEventsChannel Channel = "trustshield:policy-events"
