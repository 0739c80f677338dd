package log

// Field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldOrganization = "organization_id"
	FieldTruckID      = "truck_id"
	FieldDriverID     = "driver_id"
	FieldTripID       = "trip_id"
	FieldExpenseID    = "expense_id"
	FieldCategory     = "category"
	FieldAmountCents  = "amount_cents"
	FieldProfitCents  = "profit_cents"
	FieldEventType    = "event_type"
	FieldImages       = "images"
	FieldBackend      = "backend"
	FieldCount        = "count"
	FieldAttempt      = "attempt"
	FieldRoutingKey   = "routing_key"
	FieldPort         = "port"
	FieldIncomeID     = "income_id"
)

// Components
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentTrips     = "trips"
	ComponentFleet     = "fleet"
	ComponentExpense   = "expense"
	ComponentIncome    = "income"
	ComponentReport    = "report"
	ComponentStorage   = "storage"
	ComponentBlob      = "blob"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentConfig    = "config"
	ComponentLifecycle = "lifecycle"
)

// Operations
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpStart    = "start"
	OpFinalize = "finalize"
	OpUpload   = "upload"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Error type categories, derived from the domain error taxonomy.
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeState         = "state_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeDependency    = "dependency_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
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

// WithError adds the error message; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithOrganization(org string) LogFields {
	f[FieldOrganization] = org
	return f
}

// WithTrip adds trip and truck identifiers.
func (f LogFields) WithTrip(tripID, truckID string) LogFields {
	f[FieldTripID] = tripID
	f[FieldTruckID] = truckID
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(id, category string, amountCents int64) LogFields {
	f[FieldExpenseID] = id
	f[FieldCategory] = category
	f[FieldAmountCents] = amountCents
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
