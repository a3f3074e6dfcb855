package score

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Weights are the relative weights of the four sub-scores. They are
// normalized before use, so only their ratios matter.
type Weights struct {
	Time    float64 `json:"time" validate:"gte=0"`
	Service float64 `json:"service" validate:"gte=0"`
	Infra   float64 `json:"infra" validate:"gte=0"`
	Org     float64 `json:"org" validate:"gte=0"`
}

// Normalized returns a copy scaled so the weights sum to 1.
func (w Weights) Normalized() Weights {
	sum := w.Time + w.Service + w.Infra + w.Org
	if sum == 0 {
		return w
	}
	return Weights{
		Time:    w.Time / sum,
		Service: w.Service / sum,
		Infra:   w.Infra / sum,
		Org:     w.Org / sum,
	}
}

// Thresholds tune the time decay and the ranking cutoff.
type Thresholds struct {
	// TimeDecayHours is the distance at which the time score reaches zero.
	TimeDecayHours float64 `json:"time_decay_hours" validate:"gt=0"`
	// MinScore hides candidates scoring below it from the ranking.
	MinScore float64 `json:"min_score" validate:"gte=0"`
	// GenericChangeServices marks a change as generic above this many services.
	GenericChangeServices int `json:"generic_change_services" validate:"gte=1"`
}

// Penalties are multiplicative factors in (0, 1] applied after weighting.
type Penalties struct {
	NoLiveIntervals     float64 `json:"no_live_intervals" validate:"gt=0,lte=1"`
	NoHosts             float64 `json:"no_hosts" validate:"gt=0,lte=1"`
	NoServices          float64 `json:"no_services" validate:"gt=0,lte=1"`
	GenericChange       float64 `json:"generic_change" validate:"gt=0,lte=1"`
	LongDurationWeek    float64 `json:"long_duration_week" validate:"gt=0,lte=1"`
	LongDurationMonth   float64 `json:"long_duration_month" validate:"gt=0,lte=1"`
	LongDurationQuarter float64 `json:"long_duration_quarter" validate:"gt=0,lte=1"`
}

// Bonuses are multiplicative factors >= 1 for temporal proximity between the
// incident and the change start. At most one applies.
type Bonuses struct {
	ProximityExact float64 `json:"proximity_exact" validate:"gte=1"`
	Proximity1h    float64 `json:"proximity_1h" validate:"gte=1"`
	Proximity2h    float64 `json:"proximity_2h" validate:"gte=1"`
	Proximity4h    float64 `json:"proximity_4h" validate:"gte=1"`
}

// Config is the full scoring configuration.
type Config struct {
	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
	Penalties  Penalties  `json:"penalties"`
	Bonuses    Bonuses    `json:"bonuses"`

	// RelatedGroups maps an ecosystem name to the services belonging to it.
	// Two non-identical services in the same group are a partial match.
	RelatedGroups map[string][]string `json:"related_groups"`
}

// Duration penalty thresholds in hours.
const (
	durationWeekHours    = 168
	durationMonthHours   = 720
	durationQuarterHours = 2160
)

// Proximity bonus thresholds in hours.
const (
	proximityExactHours = 0.5
	proximity1hHours    = 1.0
	proximity2hHours    = 2.0
	proximity4hHours    = 4.0
)

// DefaultConfig returns the built-in scoring configuration.
func DefaultConfig() *Config {
	return &Config{
		Weights: Weights{
			Time:    0.35,
			Service: 0.30,
			Infra:   0.20,
			Org:     0.15,
		},
		Thresholds: Thresholds{
			TimeDecayHours:        4,
			MinScore:              0,
			GenericChangeServices: 10,
		},
		Penalties: Penalties{
			NoLiveIntervals:     0.8,
			NoHosts:             0.95,
			NoServices:          0.90,
			GenericChange:       0.5,
			LongDurationWeek:    0.8,
			LongDurationMonth:   0.6,
			LongDurationQuarter: 0.4,
		},
		Bonuses: Bonuses{
			ProximityExact: 1.5,
			Proximity1h:    1.3,
			Proximity2h:    1.2,
			Proximity4h:    1.1,
		},
		RelatedGroups: map[string][]string{
			"ionos-cloud": {
				"ic-cis", "ic-sre", "ic-oss", "ic-pss", "ic-bss", "ic-ess",
				"cloud api", "dcd", "dcd api", "compute", "network", "block storage",
				"s3 object storage", "kubernetes", "sre", "iam", "keycloak",
				"iaas provisioning", "storage provisioning", "compute provisioning",
				"network provisioning", "compute platform", "network platform",
				"storage platform", "ic-s3 object storage",
			},
			"arsys": {
				"customer area", "control panel", "mail", "dns", "webhosting",
				"dedicated server", "cloud server", "ar-cis", "ar-pss", "ar-oss",
			},
			"strato": {
				"strato-mail", "strato-webmail", "strato-server", "str-cis", "str-pss",
			},
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid scoring config: %w", err)
	}
	if c.Weights.Time+c.Weights.Service+c.Weights.Infra+c.Weights.Org == 0 {
		return fmt.Errorf("invalid scoring config: all weights are zero")
	}
	return nil
}
