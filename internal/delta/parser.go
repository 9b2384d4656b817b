// Package delta extracts structured edit operations from fenced ```delta
// blocks embedded in thread message bodies.
package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/brenner/pkg/models"
)

// FenceTag is the info-string word that marks a fenced block as a delta
const FenceTag = "delta"

var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once

	deltaValidate     *validator.Validate
	deltaValidateOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New()
	})
	return markdownParser
}

func getValidator() *validator.Validate {
	deltaValidateOnce.Do(func() {
		deltaValidate = validator.New(validator.WithRequiredStructEnabled())
		deltaValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return deltaValidate
}

// wireDelta is the record shape agents write inside a delta block
type wireDelta struct {
	Operation string          `json:"operation" validate:"required,oneof=ADD UPDATE DELETE"`
	Section   string          `json:"section" validate:"required,oneof=research_thread hypothesis_slate predictions_table discriminative_tests assumption_ledger anomaly_register adversarial_critique"`
	TargetID  *string         `json:"target_id"`
	Payload   json.RawMessage `json:"payload"`
	Rationale string          `json:"rationale" validate:"required"`
}

// Parse extracts every delta block from a message body. Each block yields one
// Result; a malformed block never prevents its siblings from parsing.
func Parse(body string) []Result {
	blocks := findBlocks(body)
	results := make([]Result, 0, len(blocks))
	for i, raw := range blocks {
		res := parseBlock(i, raw)
		if res.Value != nil {
			res.Value.BlockIndex = i
		}
		results = append(results, res)
	}
	return results
}

// ParseMessage parses a message body and stamps each valid operation with the
// message id, timestamp, and author.
func ParseMessage(msg models.Message) []Result {
	results := Parse(msg.Body)
	for i := range results {
		if results[i].Value == nil {
			continue
		}
		results[i].Value.SourceMessageID = msg.ID
		results[i].Value.SourceTimestamp = msg.CreatedAt
		results[i].Value.Author = msg.From
	}
	return results
}

// findBlocks returns the contents of fenced code blocks whose info string
// carries the delta tag, in document order
func findBlocks(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	source := []byte(body)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	var blocks []string
	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok || fenced.Info == nil {
			return ast.WalkContinue, nil
		}
		if !isDeltaInfo(fenced.Info.Segment.Value(source)) {
			return ast.WalkSkipChildren, nil
		}
		var buf bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			buf.Write(segment.Value(source))
		}
		blocks = append(blocks, buf.String())
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

func isDeltaInfo(info []byte) bool {
	for _, word := range strings.Fields(string(info)) {
		if strings.EqualFold(word, FenceTag) {
			return true
		}
	}
	return false
}

func parseBlock(index int, raw string) Result {
	result := Result{Index: index, RawBlock: raw}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		result.Error = "empty delta block"
		return result
	}

	repaired, stats, err := RepairJSON(trimmed)
	result.Repairs = stats.RepairStrategies
	if err != nil {
		result.Error = fmt.Sprintf("malformed payload: %v", err)
		return result
	}

	var wire wireDelta
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		result.Error = fmt.Sprintf("invalid delta record: %v", err)
		return result
	}

	wire.Operation = strings.ToUpper(strings.TrimSpace(wire.Operation))
	wire.Section = strings.ToLower(strings.TrimSpace(wire.Section))
	wire.Rationale = strings.TrimSpace(wire.Rationale)
	if Operation(wire.Operation).Valid() {
		result.Operation = Operation(wire.Operation)
	}

	if err := getValidator().Struct(wire); err != nil {
		result.Error = describeValidation(err)
		return result
	}

	op := &DeltaOperation{
		Operation: Operation(wire.Operation),
		Section:   Section(wire.Section),
		Rationale: wire.Rationale,
	}
	if wire.TargetID != nil {
		op.TargetID = strings.TrimSpace(*wire.TargetID)
	}

	switch op.Operation {
	case OpAdd:
		if op.TargetID != "" {
			result.Error = "target_id must be empty for ADD"
			return result
		}
	case OpUpdate, OpDelete:
		if op.TargetID == "" {
			result.Error = fmt.Sprintf("target_id is required for %s", op.Operation)
			return result
		}
	}

	payload, err := decodePayload(wire.Payload)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if payload == nil && op.Operation != OpDelete {
		result.Error = fmt.Sprintf("payload is required for %s", op.Operation)
		return result
	}
	op.Payload = payload

	result.Valid = true
	result.Value = op
	return result
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, errors.New("payload must be a JSON object")
	}
	return payload, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Sprintf("invalid delta record: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("missing required field %q", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("unknown %s %q", fe.Field(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %q failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
