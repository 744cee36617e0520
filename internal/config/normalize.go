package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if strings.TrimSpace(c.Paths.Socket) != "" {
		if c.Paths.Socket, err = expandPath(c.Paths.Socket); err != nil {
			return err
		}
	}

	c.Origin.AgentURL = strings.TrimSpace(strings.TrimSuffix(c.Origin.AgentURL, "/"))
	c.Origin.AgentToken = strings.TrimSpace(c.Origin.AgentToken)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)

	markers := c.Matching.OrdinalMarkers[:0]
	for _, marker := range c.Matching.OrdinalMarkers {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker != "" {
			markers = append(markers, marker)
		}
	}
	if len(markers) == 0 {
		markers = defaultOrdinalMarkers()
	}
	c.Matching.OrdinalMarkers = markers
	return nil
}
