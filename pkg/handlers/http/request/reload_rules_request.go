package request

import "fmt"

type ReloadRulesRequest struct {
	Rules []map[string]interface{} `json:"rules"`
}

func (r *ReloadRulesRequest) Validate() error {
	if r.Rules == nil {
		return fmt.Errorf("rules is required")
	}
	for i, rule := range r.Rules {
		if len(rule) == 0 {
			return fmt.Errorf("rule at index %d is empty", i)
		}
	}
	return nil
}
