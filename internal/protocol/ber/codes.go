package ber

// ResultCode is an LDAP resultCode (RFC 4511 section 4.1.9).
type ResultCode int64

const (
	ResultSuccess                      ResultCode = 0
	ResultOperationsError              ResultCode = 1
	ResultProtocolError                ResultCode = 2
	ResultTimeLimitExceeded            ResultCode = 3
	ResultSizeLimitExceeded            ResultCode = 4
	ResultAuthMethodNotSupported       ResultCode = 7
	ResultUnavailableCriticalExtension ResultCode = 12
	ResultNoSuchObject                 ResultCode = 32
	ResultInvalidCredentials           ResultCode = 49
	ResultInsufficientAccessRights     ResultCode = 50
	ResultUnavailable                  ResultCode = 52
	ResultUnwillingToPerform           ResultCode = 53
)

// Application tags of the protocolOp CHOICE.
const (
	TagBindRequest       = 0
	TagBindResponse      = 1
	TagUnbindRequest     = 2
	TagSearchRequest     = 3
	TagSearchResultEntry = 4
	TagSearchResultDone  = 5
)

// Search scopes (RFC 4511 section 4.5.1.2).
const (
	ScopeBaseObject   = 0
	ScopeSingleLevel  = 1
	ScopeWholeSubtree = 2
)

// String returns the conventional name of a result code for logging.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultOperationsError:
		return "operationsError"
	case ResultProtocolError:
		return "protocolError"
	case ResultTimeLimitExceeded:
		return "timeLimitExceeded"
	case ResultSizeLimitExceeded:
		return "sizeLimitExceeded"
	case ResultAuthMethodNotSupported:
		return "authMethodNotSupported"
	case ResultUnavailableCriticalExtension:
		return "unavailableCriticalExtension"
	case ResultNoSuchObject:
		return "noSuchObject"
	case ResultInvalidCredentials:
		return "invalidCredentials"
	case ResultInsufficientAccessRights:
		return "insufficientAccessRights"
	case ResultUnavailable:
		return "unavailable"
	case ResultUnwillingToPerform:
		return "unwillingToPerform"
	default:
		return "unknown"
	}
}
