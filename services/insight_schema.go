package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"ai-market-intelligence/models"
)

// codeFence matches a fenced block such as ```json ... ``` around a payload.
var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseInsightArray decodes a completion into its raw elements. Anything
// other than a single JSON array is a SchemaParseError.
func ParseInsightArray(raw string) ([]json.RawMessage, error) {
	payload := StripCodeFence(raw)
	if !strings.HasPrefix(payload, "[") {
		return nil, &models.SchemaParseError{Raw: raw, Err: errors.New("response is not a JSON array")}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &elems); err != nil {
		return nil, &models.SchemaParseError{Raw: raw, Err: err}
	}
	return elems, nil
}

// insightFields is the typed view checked by the validator. Pointers mark
// presence so that zero values are not mistaken for missing fields.
type insightFields struct {
	ID              string          `json:"id" validate:"required"`
	InsightType     string          `json:"insight_type" validate:"required"`
	Title           string          `json:"title" validate:"required"`
	Summary         string          `json:"summary" validate:"required"`
	SupportingData  *map[string]any `json:"supporting_data" validate:"required"`
	Recommendation  string          `json:"recommendation" validate:"required"`
	ConfidenceScore *float64        `json:"confidence_score" validate:"required,gte=0,lte=1"`
}

// InsightValidator checks decoded elements against the insight schema.
type InsightValidator struct {
	validate *validator.Validate
}

func NewInsightValidator() *InsightValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &InsightValidator{validate: v}
}

// Validate turns element index of a response into an Insight or explains
// why it was rejected.
func (iv *InsightValidator) Validate(index int, elem json.RawMessage) (*models.Insight, *models.ValidationError) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(elem, &obj); err != nil || obj == nil {
		return nil, &models.ValidationError{Index: index, Reason: "element is not a JSON object"}
	}

	var f insightFields
	var typeErrs []string

	idRaw, ok := obj["id"]
	if !ok {
		idRaw = obj["insight_id"]
	}
	if id, err := decodeID(idRaw); err != nil {
		typeErrs = append(typeErrs, "id:"+err.Error())
	} else {
		f.ID = id
	}

	for _, sf := range []struct {
		key string
		dst *string
	}{
		{"insight_type", &f.InsightType},
		{"title", &f.Title},
		{"summary", &f.Summary},
		{"recommendation", &f.Recommendation},
	} {
		if err := decodeText(obj[sf.key], sf.dst); err != nil {
			typeErrs = append(typeErrs, sf.key+":"+err.Error())
		}
	}

	if raw, ok := obj["supporting_data"]; ok && !isNull(raw) {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			typeErrs = append(typeErrs, "supporting_data:not an object")
		} else {
			f.SupportingData = &m
		}
	}

	if raw, ok := obj["confidence_score"]; ok && !isNull(raw) {
		score, err := decodeScore(raw)
		if err != nil {
			typeErrs = append(typeErrs, "confidence_score:"+err.Error())
		} else {
			f.ConfidenceScore = &score
		}
	}

	if len(typeErrs) > 0 {
		return nil, &models.ValidationError{Index: index, Fields: typeErrs, Reason: "wrong field types"}
	}

	if err := iv.validate.Struct(&f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return nil, &models.ValidationError{Index: index, Fields: fields, Reason: "schema violation"}
		}
		return nil, &models.ValidationError{Index: index, Reason: err.Error()}
	}

	return &models.Insight{
		ID:              f.ID,
		InsightType:     f.InsightType,
		Title:           f.Title,
		Summary:         f.Summary,
		SupportingData:  *f.SupportingData,
		Recommendation:  f.Recommendation,
		ConfidenceScore: *f.ConfidenceScore,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeID accepts a string or a number. Missing ids decode to "".
func decodeID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("not a string or number")
}

// decodeText requires a JSON string when present. Missing values leave dst
// empty for the required check.
func decodeText(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return errors.New("not a string")
	}
	*dst = strings.TrimSpace(s)
	return nil
}

// decodeScore accepts a JSON number or a numeric string.
func decodeScore(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("not a number")
}
