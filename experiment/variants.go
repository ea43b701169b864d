package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// VariantList 是有序的分组列表。
//
// 配置文件中既可以写成列表，也可以写成 name → weight 的映射；
// 映射形式按声明顺序解析，保证分流累加顺序与文件一致：
//
//	variants:
//	  control: 50
//	  treatment:
//	    weight: 50
//	    params: {model: lightfm}
type VariantList []Variant

type variantBody struct {
	Weight int            `json:"weight" yaml:"weight"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

func (l *VariantList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []Variant
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	case yaml.MappingNode:
		out := make(VariantList, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			val := node.Content[i+1]
			v := Variant{Name: name}
			if val.Kind == yaml.ScalarNode {
				if err := val.Decode(&v.Weight); err != nil {
					return fmt.Errorf("variant %q weight: %w", name, err)
				}
			} else {
				var body variantBody
				if err := val.Decode(&body); err != nil {
					return fmt.Errorf("variant %q: %w", name, err)
				}
				v.Weight, v.Params = body.Weight, body.Params
			}
			out = append(out, v)
		}
		*l = out
		return nil
	}
	return fmt.Errorf("variants: expected list or mapping, got yaml kind %d", node.Kind)
}

func (l *VariantList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var list []Variant
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}

	// 对象形式：逐个读取 token 以保留 key 顺序
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	var out VariantList
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("variants: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("variant %q: %w", name, err)
		}
		v := Variant{Name: name}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '{' {
			var body variantBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("variant %q: %w", name, err)
			}
			v.Weight, v.Params = body.Weight, body.Params
		} else if err := json.Unmarshal(raw, &v.Weight); err != nil {
			return fmt.Errorf("variant %q weight: %w", name, err)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}
