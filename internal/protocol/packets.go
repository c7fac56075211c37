// Package protocol implements the binary packet layer of the Steam
// server-query protocol spoken by Source and GoldSrc game servers and by
// the Steam master servers. Simple packets are framed as a 4-byte
// 0xFFFFFFFF marker followed by a single header byte; oversized responses
// arrive as 0xFFFFFFFE-framed fragments. A2S payload fields are
// little-endian, master-server batch ports are big-endian.
package protocol

import "fmt"

// Wire markers, read as little-endian uint32 from the first 4 bytes of a
// datagram.
const (
	PacketMarker uint32 = 0xFFFFFFFF // single-datagram packet
	SplitMarker  uint32 = 0xFFFFFFFE // fragment of a split response
)

// Request header bytes.
const (
	A2SInfo                    byte = 0x54 // basic server information
	A2SPlayer                  byte = 0x55 // current player list (challenge gated)
	A2SRules                   byte = 0x56 // server rules (challenge gated)
	A2SServerQueryGetChallenge byte = 0x57 // explicit challenge request
	A2MGetServersBatch2        byte = 0x31 // master server list page
	C2MCheckMD5                byte = 0x4D // file checksum verification
	RconGoldSrcNoChallenge     byte = 0x39 // GoldSrc RCON without challenge
	RconGoldSrcChallenge       byte = 0x63 // GoldSrc RCON challenge exchange
)

// Response header bytes.
const (
	S2AInfo2            byte = 0x49 // Source info response
	S2AInfoDetailed     byte = 0x6D // GoldSrc info response
	S2APlayer           byte = 0x44 // player list response
	S2ARules            byte = 0x45 // rules response
	S2CChallenge        byte = 0x41 // challenge number delivery
	S2CConnReject       byte = 0x39 // connection / RCON rejection
	M2AServerBatch      byte = 0x66 // master server list page response
	RconGoldSrcResponse byte = 0x6C // GoldSrc RCON command output
)

// ChallengeNone is the sentinel challenge sent when no challenge number
// has been obtained yet. Servers answer such requests with S2C_CHALLENGE
// instead of data.
const ChallengeNone int32 = -1

// Master-server region codes for A2M_GET_SERVERS_BATCH2.
const (
	RegionUSEastCoast  byte = 0x00
	RegionUSWestCoast  byte = 0x01
	RegionSouthAmerica byte = 0x02
	RegionEurope       byte = 0x03
	RegionAsia         byte = 0x04
	RegionAustralia    byte = 0x05
	RegionMiddleEast   byte = 0x06
	RegionAfrica       byte = 0x07
	RegionAll          byte = 0xFF
)

// MasterStartAddress is the start address of the first master-server page.
const MasterStartAddress = "0.0.0.0:0"

// Engine identifies the generation of the queried game engine. The two
// generations share the query protocol but differ in the info payload.
type Engine uint8

const (
	EngineSource Engine = iota
	EngineGoldSrc
)

func (e Engine) String() string {
	if e == EngineGoldSrc {
		return "goldsrc"
	}
	return "source"
}

// ServerInfo is the decoded S2A_INFO2 / S2A_INFO_DETAILED response.
type ServerInfo struct {
	Engine      Engine `json:"engine"`
	Protocol    byte   `json:"protocol"`
	Name        string `json:"name"`
	Map         string `json:"map"`
	Folder      string `json:"folder"`
	Game        string `json:"game"`
	AppID       uint16 `json:"app_id"`
	Players     uint8  `json:"players"`
	MaxPlayers  uint8  `json:"max_players"`
	Bots        uint8  `json:"bots"`
	ServerType  byte   `json:"server_type"` // 'd' dedicated, 'l' listen, 'p' SourceTV
	Environment byte   `json:"environment"` // 'l' Linux, 'w' Windows, 'm' macOS
	Passworded  bool   `json:"passworded"`
	VAC         bool   `json:"vac"`
	Version     string `json:"version"`

	// Extra data, present when the matching EDF bit is set (Source only).
	GamePort     uint16 `json:"game_port,omitempty"`
	SteamID      uint64 `json:"steam_id,omitempty"`
	SourceTVPort uint16 `json:"sourcetv_port,omitempty"`
	SourceTVName string `json:"sourcetv_name,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	GameID       uint64 `json:"game_id,omitempty"`
}

// PlayerEntry is one record of an S2A_PLAYER response.
type PlayerEntry struct {
	Index    uint8   `json:"index"`
	Name     string  `json:"name"`
	Score    int32   `json:"score"`
	Duration float32 `json:"duration"` // seconds connected
}

// RuleEntry is one key/value pair of an S2A_RULES response.
type RuleEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ServerEndpoint is one (ip, port) tuple of an M2A_SERVER_BATCH response.
type ServerEndpoint struct {
	IP   [4]byte `json:"-"`
	Port uint16  `json:"port"`
}

// IsZero reports whether the endpoint is the 0.0.0.0:0 end-of-list
// sentinel the master server appends to the final page.
func (e ServerEndpoint) IsZero() bool {
	return e.IP == [4]byte{} && e.Port == 0
}

func (e ServerEndpoint) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.IP[0], e.IP[1], e.IP[2], e.IP[3], e.Port)
}

// Response is the decoded form of a server reply. Header selects which
// payload field is populated; the others stay at their zero value.
type Response struct {
	Header byte

	Challenge    int32
	Info         *ServerInfo
	Players      []PlayerEntry
	Rules        []RuleEntry
	Servers      []ServerEndpoint
	RconText     string
	RejectReason string
}
