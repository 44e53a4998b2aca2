package schema

// WorkflowDefinition is the YAML/JSON workflow format consumed by the loader.
type WorkflowDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Inputs      map[string]any   `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Retry       *RetryPolicy     `json:"retry,omitempty" yaml:"retry,omitempty"`
	MaxParallel int              `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID            string         `json:"id" yaml:"id"`
	Action        string         `json:"action" yaml:"action"`                                       // registered action name (e.g. "http", "jq")
	Params        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`                   // action-specific parameters
	DependsOn     []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`           // step IDs that must complete first
	Condition     string         `json:"condition,omitempty" yaml:"condition,omitempty"`             // evaluated each round while the step is pending
	ConditionLang string         `json:"condition_lang,omitempty" yaml:"condition_lang,omitempty"`   // cel | expr (default: cel)
	Timeout       string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`                 // per-attempt timeout (e.g. "30s", "5m")
	Retries       int            `json:"retries,omitempty" yaml:"retries,omitempty"`                 // extra attempts after the first
	Critical      bool           `json:"critical,omitempty" yaml:"critical,omitempty"`
	Parallel      bool           `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// BackoffStrategy names a delay schedule between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures the wait between attempts of a step.
type RetryPolicy struct {
	Backoff  BackoffStrategy `json:"backoff,omitempty" yaml:"backoff,omitempty"` // default: constant
	Delay    string          `json:"delay,omitempty" yaml:"delay,omitempty"`     // base delay (e.g. "1s", "500ms")
	MaxDelay string          `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Condition languages understood by the loader.
const (
	ConditionLangCEL  = "cel"
	ConditionLangExpr = "expr"
)
