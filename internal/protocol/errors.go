package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Map routing.
	ErrMapNotFound = "E_MAP_NOT_FOUND"

	// Edit layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidHandle = "E_INVALID_HANDLE"
	ErrTooLarge      = "E_TOO_LARGE"
	ErrNothingToUndo = "E_NOTHING_TO_UNDO"
	ErrNothingToRedo = "E_NOTHING_TO_REDO"
	ErrDataFormat    = "E_DATA_FORMAT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrMapNotFound:     {},
	ErrBadRequest:      {},
	ErrInvalidHandle:   {},
	ErrTooLarge:        {},
	ErrNothingToUndo:   {},
	ErrNothingToRedo:   {},
	ErrDataFormat:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
