package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"volatility_computed": {
		Event:    "volatility_computed",
		Required: []string{"requestId", "samples", "reference", "optimized", "circuit", "withinTolerance"},
	},
	"divergence_warning": {
		Event:    "divergence_warning",
		Required: []string{"requestId", "referenceVsOptimized", "tolerance"},
	},
	"divergence_defect": {
		Event:    "divergence_defect",
		Required: []string{"requestId", "optimized", "circuit"},
	},
	"proof_submitted": {
		Event:    "proof_submitted",
		Required: []string{"artifactId", "backend", "volatility", "sampleCount"},
	},
	"proof_attempt_failed": {
		Event:    "proof_attempt_failed",
		Required: []string{"requestId", "attempt", "error"},
	},
	"keys_generated": {
		Event:    "keys_generated",
		Required: []string{"sampleCount", "degree", "rows", "signer"},
	},
	"watch_trigger": {
		Event:    "watch_trigger",
		Required: []string{"file", "endBlock", "samples"},
	},
	"config_reloaded": {
		Event:    "config_reloaded",
		Required: []string{"path", "tolerance", "strict"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
