package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration time.Duration, который в JSON пишется строкой: "100ms", "5s"
type Duration struct {
	time.Duration
}

// Set разбирает строку вида "100ms"
func (d *Duration) Set(value string) error {
	v, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON принимает строку "500ms" или число наносекунд
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		return d.Set(value)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}
