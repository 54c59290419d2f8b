package kmsclient

import (
	"encoding/json"
	"strconv"
)

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		v.Int = asInt
		v.IsInt = true
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err != nil {
		return err
	}
	v.Str = asStr
	v.IsInt = false
	return nil
}

func (v RuleValue) MarshalJSON() ([]byte, error) {
	if v.IsInt {
		return json.Marshal(v.Int)
	}
	return json.Marshal(v.Str)
}

// AsInt returns Value interpreted as an integer count, parsing Str if the
// rule arrived as a JSON string.
func (v RuleValue) AsInt() int {
	if v.IsInt {
		return v.Int
	}
	n, _ := strconv.Atoi(v.Str)
	return n
}
