package codec

// Result codes defined by RFC5730 section 3.
const (
	CodeSuccess                 = 1000
	CodeSuccessPending          = 1001
	CodeNoMessages              = 1300
	CodeAckToDequeue            = 1301
	CodeSuccessEndingSession    = 1500
	CodeUnknownCommand          = 2000
	CodeSyntaxError             = 2001
	CodeUseError                = 2002
	CodeMissingParameter        = 2003
	CodeValueRangeError         = 2004
	CodeValueSyntaxError        = 2005
	CodeUnimplementedVersion    = 2100
	CodeUnimplementedCommand    = 2101
	CodeUnimplementedOption     = 2102
	CodeUnimplementedExtension  = 2103
	CodeBillingFailure          = 2104
	CodeNotEligibleForRenewal   = 2105
	CodeNotEligibleForTransfer  = 2106
	CodeAuthenticationError     = 2200
	CodeAuthorizationError      = 2201
	CodeInvalidAuthInfo         = 2202
	CodeTransferPending         = 2300
	CodeNotPendingTransfer      = 2301
	CodeObjectExists            = 2302
	CodeObjectDoesNotExist      = 2303
	CodeStatusProhibitsOp       = 2304
	CodeAssociationProhibitsOp  = 2305
	CodeParameterPolicyError    = 2306
	CodeUnimplementedService    = 2307
	CodeDataManagementViolation = 2308
	CodeCommandFailed           = 2400
	CodeCommandFailedClosing    = 2500
	CodeAuthErrorClosing        = 2501
	CodeSessionLimitExceeded    = 2502
)

// ClosesSession reports whether code announces that the server is
// closing the connection.
func ClosesSession(code int) bool { return code >= 2500 && code <= 2502 }
