package log

// Field names shared by every component.
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldKey         = "key"
	FieldFamilyID    = "family_id"
	FieldSessionID   = "session_id"
	FieldDeviceName  = "device_name"
	FieldOperationID = "operation_id"
	FieldOperations  = "operations"
	FieldRevision    = "revision"
	FieldSyncState   = "sync_state"
	FieldRemotePath  = "remote_path"
	FieldSink        = "sink"
	FieldAttempt     = "attempt"
	FieldObject      = "object"
)

// Component names.
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentLocalStore  = "localstore"
	ComponentStorage     = "storage"
	ComponentRemote      = "remote"
	ComponentCoordinator = "coordinator"
	ComponentDevices     = "devices"
	ComponentDiagnostics = "diagnostics"
	ComponentMirror      = "mirror"
	ComponentAMQP        = "amqp"
	ComponentSheets      = "sheets"
	ComponentWorker      = "worker"
	ComponentArchive     = "archive"
	ComponentTree        = "tree"
	ComponentRateLimit   = "rate_limit"
	ComponentTrace       = "trace"
	ComponentBackend     = "backend"
)

// Operation names.
const (
	OpInit      = "init"
	OpLoad      = "load"
	OpSave      = "save"
	OpSubscribe = "subscribe"
	OpPush      = "push"
	OpRegister  = "register"
	OpHeartbeat = "heartbeat"
	OpMirror    = "mirror"
	OpImport    = "import"
	OpExport    = "export"
	OpBackup    = "backup"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// Error categories.
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeConflict      = "conflict_error"
)

// LogFields builds a key/value list for slog.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError records err and its category; nil errors are ignored.
func (f LogFields) WithError(err error, errType string) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		if errType != "" {
			f[FieldErrorType] = errType
		}
	}
	return f
}

// WithSync adds the identifiers every sync log line should carry.
func (f LogFields) WithSync(familyID, sessionID string) LogFields {
	f[FieldFamilyID] = familyID
	if sessionID != "" {
		f[FieldSessionID] = sessionID
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice flattens the fields for slog's variadic args.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
