package config

import (
	"emperror.dev/errors"
	"gopkg.in/yaml.v3"
)

// mergeWithRaw writes the values of the marshaled configuration into the node
// tree of the existing file so that its comments and key order survive.
func mergeWithRaw(raw, updated []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, errors.Wrap(err, "config: failed to parse existing file")
	}
	var next yaml.Node
	if err := yaml.Unmarshal(updated, &next); err != nil {
		return nil, errors.Wrap(err, "config: failed to parse updated config")
	}
	if len(root.Content) == 0 {
		return updated, nil
	}

	mergeNodes(root.Content[0], next.Content[0])

	out, err := yaml.Marshal(&root)
	if err != nil {
		return nil, errors.Wrap(err, "config: failed to marshal merged config")
	}
	return out, nil
}

// mergeNodes copies values from updated into root. Comments, and keys only
// present in root, are kept.
func mergeNodes(root, updated *yaml.Node) {
	if root == nil || updated == nil {
		return
	}

	switch {
	case root.Kind == yaml.MappingNode && updated.Kind == yaml.MappingNode:
		values := make(map[string]*yaml.Node, len(updated.Content)/2)
		var order []string
		for i := 0; i+1 < len(updated.Content); i += 2 {
			k := updated.Content[i].Value
			values[k] = updated.Content[i+1]
			order = append(order, k)
		}

		for i := 0; i+1 < len(root.Content); i += 2 {
			k := root.Content[i].Value
			if v, ok := values[k]; ok {
				mergeNodes(root.Content[i+1], v)
				delete(values, k)
			}
		}

		// New keys are appended in the order the struct declares them.
		for _, k := range order {
			if v, ok := values[k]; ok {
				root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, v)
			}
		}
	case root.Kind == yaml.ScalarNode && updated.Kind == yaml.ScalarNode:
		root.Value = updated.Value
		root.Tag = updated.Tag
		root.Style = updated.Style
	default:
		root.Kind = updated.Kind
		root.Tag = updated.Tag
		root.Value = updated.Value
		root.Content = updated.Content
	}
}
