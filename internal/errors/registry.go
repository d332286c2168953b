package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Runtime Misuse (E201-E219)
	// ============================================

	"E201": {
		Category: CategoryRuntime,
		Message:  "Reentrant box access",
		Detail:   "Read or Write was called on a box from inside another Read or Write on the same box and goroutine. Box strategies are not reentrant; nest updates through Store.Update instead.",
	},
	"E202": {
		Category: CategoryRuntime,
		Message:  "Dispatch queue closed",
		Detail:   "Work was submitted to a dispatch queue after Close was called.",
	},
	"E203": {
		Category: CategoryRuntime,
		Message:  "Invalid scope accessors",
		Detail:   "A scope needs both a transform and a merge function.",
	},
	"E204": {
		Category: CategoryRuntime,
		Message:  "Unknown box strategy",
		Detail:   "The box strategy is not one of SpinLock, RWLock, SerialQueue or ConcurrentQueue.",
	},

	// ============================================
	// Configuration (E301-E319)
	// ============================================

	"E301": {
		Category: CategoryConfig,
		Message:  "Failed to read configuration",
		Detail:   "The configuration file could not be read or parsed.",
	},
	"E302": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration field holds a value outside its allowed range.",
	},
	"E303": {
		Category: CategoryConfig,
		Message:  "Unsupported configuration format",
		Detail:   "Configuration files must end in .json, .toml, .yaml or .yml.",
	},
	"E304": {
		Category: CategoryConfig,
		Message:  "Unknown profile",
		Detail:   "The requested bench profile is not registered.",
	},
	"E305": {
		Category: CategoryConfig,
		Message:  "Failed to apply overrides",
		Detail:   "Command-line overrides could not be decoded onto the configuration.",
	},

	// ============================================
	// Command Line (E401-E419)
	// ============================================

	"E401": {
		Category: CategoryCLI,
		Message:  "Metrics server failed",
		Detail:   "The metrics HTTP listener could not be started or stopped cleanly.",
	},
	"E402": {
		Category: CategoryCLI,
		Message:  "Bench run failed",
		Detail:   "A bench worker stopped with an error.",
	},
	"E403": {
		Category: CategoryCLI,
		Message:  "Unknown demo scenario",
		Detail:   "The requested demo scenario does not exist.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
