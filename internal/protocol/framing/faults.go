package framing

// FaultNamespace prefixes every framing fault identifier.
const FaultNamespace = "http://schemas.microsoft.com/ws/2006/05/framing/faults/"

// Fault identifiers surfaced on decode failure and sent back to peers in
// Fault records. Callers map them to protocol-level fault codes.
const (
	FaultContentTypeInvalid       = FaultNamespace + "ContentTypeInvalid"
	FaultContentTypeTooLong       = FaultNamespace + "ContentTypeTooLong"
	FaultConnectionDispatchFailed = FaultNamespace + "ConnectionDispatchFailed"
	FaultEndpointNotFound         = FaultNamespace + "EndpointNotFound"
	FaultEndpointUnavailable      = FaultNamespace + "EndpointUnavailable"
	FaultMaxMessageSizeExceeded   = FaultNamespace + "MaxMessageSizeExceededFault"
	FaultServerTooBusy            = FaultNamespace + "ServerTooBusy"
	FaultServiceActivationFailed  = FaultNamespace + "ServiceActivationFailed"
	FaultUnsupportedMode          = FaultNamespace + "UnsupportedMode"
	FaultUnsupportedVersion       = FaultNamespace + "UnsupportedVersion"
	FaultUpgradeInvalid           = FaultNamespace + "UpgradeInvalid"
	FaultViaTooLong               = FaultNamespace + "ViaTooLong"
)

// AllFaults lists every fault identifier in a stable order.
var AllFaults = []string{
	FaultContentTypeInvalid,
	FaultContentTypeTooLong,
	FaultConnectionDispatchFailed,
	FaultEndpointNotFound,
	FaultEndpointUnavailable,
	FaultMaxMessageSizeExceeded,
	FaultServerTooBusy,
	FaultServiceActivationFailed,
	FaultUnsupportedMode,
	FaultUnsupportedVersion,
	FaultUpgradeInvalid,
	FaultViaTooLong,
}

// ShortFaultName strips the namespace from a fault identifier. Metrics use
// the short form as a label value.
func ShortFaultName(fault string) string {
	if len(fault) > len(FaultNamespace) && fault[:len(FaultNamespace)] == FaultNamespace {
		return fault[len(FaultNamespace):]
	}
	if fault == "" {
		return "none"
	}
	return fault
}
