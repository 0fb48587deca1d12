package session

// Frame type discriminants shared by both wire directions.
const (
	FrameInit      = "init"
	FrameDraw      = "draw"
	FrameErase     = "erase"
	FrameClear     = "clear"
	FrameMove      = "move"
	FrameReorder   = "reorder"
	FrameCursor    = "cursor"
	FrameUserCount = "userCount"
	FrameUserLeft  = "userLeft"
)

// legacyUserKey is the wire field carrying the originating user identifier
// on cursor and userLeft frames. The misspelling is load-bearing: deployed
// clients read "oderId", so the server emits it bit-exactly and carries the
// corrected "userId" alias alongside.
const (
	legacyUserKey  = "oderId"
	aliasUserKey   = "userId"
	keyElements    = "elements"
	keyElement     = "element"
	keyElementID   = "elementId"
	keyPosition    = "position"
	keyCount       = "count"
	keyCursorX     = "x"
	keyCursorY     = "y"
	keyFrameType   = "type"
	keyInitUserID  = "userId"
	keyInitUsers   = "userCount"
)

// Reorder positions accepted on the wire. Any other value is a no-op.
const (
	PositionFront = "front"
	PositionBack  = "back"
)
