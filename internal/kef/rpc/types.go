package rpc

// Endpoint identifies a KEF API endpoint under /api.
type Endpoint string

const (
	EndpointGetData     Endpoint = "getData"
	EndpointSetData     Endpoint = "setData"
	EndpointModifyQueue Endpoint = "event/modifyQueue"
	EndpointLongPoll    Endpoint = "event/longPoll"
)

// Method selects how Call encodes its parameters.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Known data paths on KEF W2 platform speakers.
const (
	PathVolume         = "player:volume"
	PathPhysicalSource = "settings:/kef/play/physicalSource"
	PathSpeakerStatus  = "settings:/kef/host/speakerStatus"
	PathPlayerControl  = "player:player/control"
	PathPlayerData     = "player:player/data"
	PathPlayTime       = "player:player/data/playTime"
	PathDeviceName     = "settings:/deviceName"
	PathMacAddress     = "settings:/system/primaryMacAddress"
	PathReleaseText    = "settings:/releasetext"
	PathMute           = "settings:/mediaPlayer/mute"
	PathPlayMode       = "settings:/mediaPlayer/playMode"
)

// Roles accepted by getData/setData.
const (
	RoleValue    = "value"
	RoleActivate = "activate"
)

// Typed value tags used in the envelope "type" field.
const (
	TypeI32            = "i32_"
	TypeI64            = "i64_"
	TypeString         = "string_"
	TypeBool           = "bool_"
	TypePhysicalSource = "kefPhysicalSource"
	TypeSpeakerStatus  = "kefSpeakerStatus"
)
