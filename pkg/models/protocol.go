package models

// Printer protocols. The value is stored in ResultRecord.Protocol and used as
// a metrics label.
const (
	ProtocolEPOS      = "epos"
	ProtocolCloudPRNT = "cloudprnt"
)

// ValidProtocol reports whether p names a supported protocol.
func ValidProtocol(p string) bool {
	return p == ProtocolEPOS || p == ProtocolCloudPRNT
}
