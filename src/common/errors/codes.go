package errors

// Failure classes
const (
	CodeCommandFailed   Code = "command_failed"
	CodeFilesystem      Code = "filesystem"
	CodePrecondition    Code = "precondition"
	CodeDownload        Code = "download"
	CodeInterrupted     Code = "interrupted"
	CodeInvalidArgument Code = "invalid_argument"
	CodeStorage         Code = "storage"
	CodeDatabase        Code = "database"
)

// Subsystems that are not pipeline stages
const (
	DomainConfig  Domain = "config"
	DomainJournal Domain = "journal"
	DomainStorage Domain = "storage"
)

// Sentinels for errors.Is checks. Their domain is empty so they match a
// failure of that class in any stage.
var (
	ErrCommandFailed = &Error{Code: CodeCommandFailed, Message: "external command failed"}
	ErrFilesystem    = &Error{Code: CodeFilesystem, Message: "filesystem operation failed"}
	ErrPrecondition  = &Error{Code: CodePrecondition, Message: "host precondition not met"}
	ErrDownload      = &Error{Code: CodeDownload, Message: "download failed"}
	ErrInterrupted   = &Error{Code: CodeInterrupted, Message: "build interrupted"}
	ErrInvalidArg    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrStorage       = &Error{Code: CodeStorage, Message: "artifact store operation failed"}
	ErrDatabase      = &Error{Code: CodeDatabase, Message: "journal operation failed"}
)
