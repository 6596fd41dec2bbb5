package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World state.
	ErrWorldNotReady = "E_WORLD_NOT_READY"
	ErrWorldPaused   = "E_WORLD_PAUSED"

	// Command layer.
	ErrBadCommand = "E_BAD_COMMAND"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotReady:   {},
	ErrWorldPaused:     {},
	ErrBadCommand:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
