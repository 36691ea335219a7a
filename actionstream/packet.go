package actionstream

import "encoding/json"

// Packet is one decoded action-packet: a mandatory action code plus the
// raw JSON so handlers can pull out code-specific fields without a giant
// shared struct (§4.3's taxonomy table).
type Packet struct {
	Action        string
	OriginSession string
	Raw           json.RawMessage
}

type packetEnvelope struct {
	A string `json:"a"`
	I string `json:"i"`
}

func decodePacket(raw json.RawMessage) (Packet, error) {
	var env packetEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Packet{}, err
	}
	return Packet{Action: env.A, OriginSession: env.I, Raw: raw}, nil
}

// Known action codes (§4.3's packet taxonomy table). Unknown codes are
// silently skipped by TreeHandler.Apply.
const (
	ActionNodeUpdate      = "u"
	ActionNewNodes        = "t"
	ActionDelete          = "d"
	ActionShare           = "s"
	ActionShare2          = "s2"
	ActionContact         = "c"
	ActionKey             = "k"
	ActionFileAttr        = "fa"
	ActionUserAttr        = "ua"
	ActionPaymentSuccess  = "psts"
	ActionPaymentReminder = "pses"
	ActionPCRIncoming     = "ipc"
	ActionPCROutgoing     = "opc"
	ActionPCRIncomingUpd  = "upci"
	ActionPCROutgoingUpd  = "upco"
	ActionPublicLink      = "ph"
	ActionSetEmail        = "se"
	ActionChatCreate      = "mcc"
	ActionChatFlags       = "mcpc"
	ActionChatNodeAccess  = "mcfc"
	ActionChatFlagsPriv   = "mcfpc"
	ActionChatNodeAdd     = "mcna"
	ActionChatNodePrivAdd = "mcpna"
	ActionAccountConfirm  = "uac"
	ActionAlertAck        = "la"
	ActionBusinessStatus  = "ub"
)
