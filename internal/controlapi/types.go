package controlapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/store"
)

// keyRegex is the format for all key identifiers on this surface. It
// matches what the store and schema enforce.
var keyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrorResponse is the standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// renderStoreError maps store errors onto the HTTP error model. Anything
// that is not a domain error is treated as transient and answered with a
// retryable status.
func renderStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *store.ValidationError

	switch {
	case errors.Is(err, store.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: err.Error()})
	case errors.Is(err, store.ErrConflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{Code: "ERR_CONFLICT", Message: err.Error()})
	case errors.As(err, &verr):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: verr.Error()})
	default:
		logger.FromContext(r.Context()).Error("store operation failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{Code: "ERR_UNAVAILABLE", Message: "Configuration store unavailable"})
	}
}

func validateKeyField(field, key string) *ErrorResponse {
	if key == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: field + " is required"}
	}
	if len(key) > 255 || !keyRegex.MatchString(key) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: field + " must match ^[a-z][a-z0-9_]*$"}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// VariantPayload is one variant in flag create/replace requests.
type VariantPayload struct {
	Key     string          `json:"key"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Weight  int             `json:"weight"`
}

// CreateFlagRequest is the payload for POST /flags.
type CreateFlagRequest struct {
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        string           `json:"type"`
	Tags        []string         `json:"tags,omitempty"`
	Permanent   bool             `json:"permanent"`
	OwnerEmail  string           `json:"owner_email,omitempty"`
	Variants    []VariantPayload `json:"variants,omitempty"`
}

// Sanitize trims and lowercases the identifying fields in place.
func (r *CreateFlagRequest) Sanitize() {
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.OwnerEmail = strings.TrimSpace(r.OwnerEmail)
	for i := range r.Variants {
		r.Variants[i].Key = strings.ToLower(strings.TrimSpace(r.Variants[i].Key))
	}
}

// Validate checks the request against the data-model rules.
func (r *CreateFlagRequest) Validate() *ErrorResponse {
	if err := validateKeyField("key", r.Key); err != nil {
		return err
	}
	if r.Name == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "name is required"}
	}
	if !engine.ValidFlagType(engine.FlagType(r.Type)) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "type must be one of boolean, percentage, variant, segment"}
	}
	for _, v := range r.Variants {
		if err := validateKeyField("variant key", v.Key); err != nil {
			return err
		}
		if v.Weight < 0 {
			return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "variant weight must be non-negative"}
		}
	}
	return nil
}

// UpdateFlagRequest is the payload for PATCH /flags/{key}. Pointers
// distinguish "missing" from explicit zero values.
type UpdateFlagRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	OwnerEmail  *string   `json:"owner_email,omitempty"`
	Permanent   *bool     `json:"permanent,omitempty"`
}

// Validate checks the provided fields.
func (r *UpdateFlagRequest) Validate() *ErrorResponse {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "name cannot be empty"}
	}
	return nil
}

// FlagResponse is the wire shape of a flag aggregate.
type FlagResponse struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type"`
	Tags        []string          `json:"tags"`
	Archived    bool              `json:"archived"`
	Permanent   bool              `json:"permanent"`
	OwnerEmail  string            `json:"owner_email,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Variants    []VariantPayload  `json:"variants,omitempty"`
	Overlays    []OverlayResponse `json:"environments,omitempty"`
}

// OverlayResponse is the per-environment state of a flag.
type OverlayResponse struct {
	Environment string     `json:"environment"`
	Enabled     bool       `json:"enabled"`
	Percentage  int        `json:"percentage"`
	EnableAt    *time.Time `json:"enable_at,omitempty"`
	DisableAt   *time.Time `json:"disable_at,omitempty"`
	RuleCount   int        `json:"rule_count"`
}

func toFlagResponse(f *store.Flag) FlagResponse {
	resp := FlagResponse{
		Key:         f.Key,
		Name:        f.Name,
		Description: f.Description,
		Type:        string(f.Type),
		Tags:        f.Tags,
		Archived:    f.Archived,
		Permanent:   f.Permanent,
		OwnerEmail:  f.OwnerEmail,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	for _, v := range f.Variants {
		resp.Variants = append(resp.Variants, VariantPayload{Key: v.Key, Name: v.Name, Payload: v.Payload, Weight: v.Weight})
	}
	for _, o := range f.Environments {
		resp.Overlays = append(resp.Overlays, OverlayResponse{
			Environment: o.EnvironmentKey,
			Enabled:     o.Enabled,
			Percentage:  o.Percentage,
			EnableAt:    o.EnableAt,
			DisableAt:   o.DisableAt,
			RuleCount:   len(o.Rules),
		})
	}
	return resp
}

// PaginatedResponse wraps list endpoints with offset pagination metadata.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination is the pager metadata.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// -----------------------------------------------------------------------------
// Overlays, rules, schedules
// -----------------------------------------------------------------------------

// ToggleRequest is the payload for POST .../toggle.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// OverlayUpdateRequest is the payload for PATCH .../environments/{env}.
type OverlayUpdateRequest struct {
	Percentage     *int            `json:"percentage,omitempty"`
	DefaultVariant *string         `json:"default_variant,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the provided fields.
func (r *OverlayUpdateRequest) Validate() *ErrorResponse {
	if r.Percentage != nil && (*r.Percentage < 0 || *r.Percentage > 100) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "percentage must be in [0,100]"}
	}
	return nil
}

// RulePayload is one targeting rule in PUT .../rules.
type RulePayload struct {
	Type            string   `json:"type"`
	Segment         string   `json:"segment,omitempty"`
	AttributeName   string   `json:"attribute_name,omitempty"`
	Operator        string   `json:"operator,omitempty"`
	AttributeValue  string   `json:"attribute_value,omitempty"`
	UserIDs         []string `json:"user_ids,omitempty"`
	ServeEnabled    bool     `json:"serve_enabled"`
	ServeVariant    string   `json:"serve_variant,omitempty"`
	ServePercentage *int     `json:"serve_percentage,omitempty"`
}

// ReplaceRulesRequest is the payload for PUT .../rules. Order is position
// order.
type ReplaceRulesRequest struct {
	Rules []RulePayload `json:"rules"`
}

// ScheduleRequest is the payload for POST .../schedule.
type ScheduleRequest struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Validate checks the schedule fields.
func (r *ScheduleRequest) Validate() *ErrorResponse {
	if r.Kind != string(store.TransitionEnable) && r.Kind != string(store.TransitionDisable) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "kind must be enable or disable"}
	}
	if r.At.IsZero() {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "at is required"}
	}
	return nil
}

// ScheduleResponse returns the new schedule handle.
type ScheduleResponse struct {
	Handle string    `json:"handle"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
}

// -----------------------------------------------------------------------------
// Segments
// -----------------------------------------------------------------------------

// SegmentRulePayload is one predicate in a segment upsert.
type SegmentRulePayload struct {
	AttributeName string `json:"attribute_name"`
	Operator      string `json:"operator"`
	Value         string `json:"value"`
}

// UpsertSegmentRequest is the payload for PUT /segments.
type UpsertSegmentRequest struct {
	Key       string               `json:"key"`
	Name      string               `json:"name"`
	MatchType string               `json:"match_type"`
	Rules     []SegmentRulePayload `json:"rules"`
}

// Sanitize trims and lowercases identifying fields in place.
func (r *UpsertSegmentRequest) Sanitize() {
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
	r.MatchType = strings.ToLower(strings.TrimSpace(r.MatchType))
}

// Validate checks the segment fields.
func (r *UpsertSegmentRequest) Validate() *ErrorResponse {
	if err := validateKeyField("key", r.Key); err != nil {
		return err
	}
	if r.Name == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "name is required"}
	}
	if r.MatchType != string(engine.MatchAll) && r.MatchType != string(engine.MatchAny) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "match_type must be all or any"}
	}
	for _, rule := range r.Rules {
		if rule.AttributeName == "" {
			return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "rule attribute_name is required"}
		}
		if !engine.ValidOperator(engine.Operator(rule.Operator)) {
			return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "unknown operator " + rule.Operator}
		}
	}
	return nil
}

// SegmentResponse is the wire shape of a segment.
type SegmentResponse struct {
	Key       string               `json:"key"`
	Name      string               `json:"name"`
	MatchType string               `json:"match_type"`
	Rules     []SegmentRulePayload `json:"rules"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func toSegmentResponse(seg *store.Segment) SegmentResponse {
	resp := SegmentResponse{
		Key:       seg.Key,
		Name:      seg.Name,
		MatchType: string(seg.MatchType),
		Rules:     []SegmentRulePayload{},
		CreatedAt: seg.CreatedAt,
		UpdatedAt: seg.UpdatedAt,
	}
	for _, rule := range seg.Rules {
		resp.Rules = append(resp.Rules, SegmentRulePayload{
			AttributeName: rule.AttributeName,
			Operator:      rule.Operator,
			Value:         rule.Value,
		})
	}
	return resp
}

// -----------------------------------------------------------------------------
// Environments
// -----------------------------------------------------------------------------

// CreateEnvironmentRequest is the payload for POST /environments.
type CreateEnvironmentRequest struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Production bool   `json:"production"`
	Position   int    `json:"position"`
}

// Sanitize trims and lowercases identifying fields in place.
func (r *CreateEnvironmentRequest) Sanitize() {
	r.Key = strings.ToLower(strings.TrimSpace(r.Key))
	r.Name = strings.TrimSpace(r.Name)
}

// Validate checks the environment fields.
func (r *CreateEnvironmentRequest) Validate() *ErrorResponse {
	if err := validateKeyField("key", r.Key); err != nil {
		return err
	}
	if r.Name == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "name is required"}
	}
	return nil
}

// EnvironmentResponse is the wire shape of an environment.
type EnvironmentResponse struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Production bool      `json:"production"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}
