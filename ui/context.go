package ui

// HostContext is the host environment snapshot shared with the guest. The
// same type doubles as a partial update: a zero scalar or nil sub-struct
// means "unchanged", so clients can merge deltas without a separate patch
// type. Hosts that need to clear a field send its zero-value replacement
// inside a populated sub-struct instead.
type HostContext struct {
	Theme       string `json:"theme,omitzero"`
	Locale      string `json:"locale,omitzero"`
	TimeZone    string `json:"timeZone,omitzero"`
	DisplayMode string `json:"displayMode,omitzero"`

	Viewport           *Viewport           `json:"viewport,omitempty"`
	SafeAreaInsets     *SafeAreaInsets     `json:"safeAreaInsets,omitempty"`
	DeviceCapabilities *DeviceCapabilities `json:"deviceCapabilities,omitempty"`
	ToolInvocation     *ToolInvocation     `json:"toolInvocation,omitempty"`
}

// Viewport is the visible area of the embedded surface in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SafeAreaInsets are the margins the surface must keep clear, in CSS pixels.
type SafeAreaInsets struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// DeviceCapabilities describes the input surface the guest renders into.
type DeviceCapabilities struct {
	Touch    bool `json:"touch"`
	Hover    bool `json:"hover"`
	Keyboard bool `json:"keyboard"`
}

// ToolInvocation links the surface to the tool call that spawned it.
type ToolInvocation struct {
	InvocationID string `json:"invocationId"`
	ToolName     string `json:"toolName"`
}

// Diff computes the partial update that takes the receiver to next. Only
// fields whose value differs appear in the delta; changed reports whether
// the delta is non-empty. Sub-structs are treated as atomic values.
func (c HostContext) Diff(next HostContext) (delta HostContext, changed bool) {
	if next.Theme != "" && next.Theme != c.Theme {
		delta.Theme = next.Theme
		changed = true
	}
	if next.Locale != "" && next.Locale != c.Locale {
		delta.Locale = next.Locale
		changed = true
	}
	if next.TimeZone != "" && next.TimeZone != c.TimeZone {
		delta.TimeZone = next.TimeZone
		changed = true
	}
	if next.DisplayMode != "" && next.DisplayMode != c.DisplayMode {
		delta.DisplayMode = next.DisplayMode
		changed = true
	}
	if next.Viewport != nil && (c.Viewport == nil || *c.Viewport != *next.Viewport) {
		v := *next.Viewport
		delta.Viewport = &v
		changed = true
	}
	if next.SafeAreaInsets != nil && (c.SafeAreaInsets == nil || *c.SafeAreaInsets != *next.SafeAreaInsets) {
		v := *next.SafeAreaInsets
		delta.SafeAreaInsets = &v
		changed = true
	}
	if next.DeviceCapabilities != nil && (c.DeviceCapabilities == nil || *c.DeviceCapabilities != *next.DeviceCapabilities) {
		v := *next.DeviceCapabilities
		delta.DeviceCapabilities = &v
		changed = true
	}
	if next.ToolInvocation != nil && (c.ToolInvocation == nil || *c.ToolInvocation != *next.ToolInvocation) {
		v := *next.ToolInvocation
		delta.ToolInvocation = &v
		changed = true
	}
	return delta, changed
}

// Merge applies a partial update and returns the merged snapshot. Applying
// the same delta twice yields the same result, so redelivered updates are
// harmless. Sub-structs are copied; the merged value shares no pointers with
// either input.
func (c HostContext) Merge(delta HostContext) HostContext {
	out := c
	if delta.Theme != "" {
		out.Theme = delta.Theme
	}
	if delta.Locale != "" {
		out.Locale = delta.Locale
	}
	if delta.TimeZone != "" {
		out.TimeZone = delta.TimeZone
	}
	if delta.DisplayMode != "" {
		out.DisplayMode = delta.DisplayMode
	}
	if delta.Viewport != nil {
		v := *delta.Viewport
		out.Viewport = &v
	} else if c.Viewport != nil {
		v := *c.Viewport
		out.Viewport = &v
	}
	if delta.SafeAreaInsets != nil {
		v := *delta.SafeAreaInsets
		out.SafeAreaInsets = &v
	} else if c.SafeAreaInsets != nil {
		v := *c.SafeAreaInsets
		out.SafeAreaInsets = &v
	}
	if delta.DeviceCapabilities != nil {
		v := *delta.DeviceCapabilities
		out.DeviceCapabilities = &v
	} else if c.DeviceCapabilities != nil {
		v := *c.DeviceCapabilities
		out.DeviceCapabilities = &v
	}
	if delta.ToolInvocation != nil {
		v := *delta.ToolInvocation
		out.ToolInvocation = &v
	} else if c.ToolInvocation != nil {
		v := *c.ToolInvocation
		out.ToolInvocation = &v
	}
	return out
}
