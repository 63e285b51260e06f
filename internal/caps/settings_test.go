package caps

import "testing"

func TestExtractSettings(t *testing.T) {
	tests := []struct {
		name          string
		in            Dict
		wantSettings  Dict
		wantRemaining Dict
	}{
		{
			name:          "single directive extracted and deleted",
			in:            Dict{"a": Number(1), "settings[timeout]": Number(30)},
			wantSettings:  Dict{"timeout": Number(30)},
			wantRemaining: Dict{"a": Number(1)},
		},
		{
			name: "multiple directives in one pass",
			in: Dict{
				"settings[imageMatchThreshold]":        Number(0.4),
				"settings[fixImageFindScreenshotDims]": Bool(false),
				"platformName":                         String("iOS"),
			},
			wantSettings: Dict{
				"imageMatchThreshold":        Number(0.4),
				"fixImageFindScreenshotDims": Bool(false),
			},
			wantRemaining: Dict{"platformName": String("iOS")},
		},
		{
			name:          "namespaced directive matches on suffix",
			in:            Dict{"appium:settings[snapshotMaxDepth]": Number(60)},
			wantSettings:  Dict{"snapshotMaxDepth": Number(60)},
			wantRemaining: Dict{},
		},
		{
			name:          "value types preserved",
			in:            Dict{"settings[custom]": Object(Dict{"k": Array(Number(1))})},
			wantSettings:  Dict{"custom": Object(Dict{"k": Array(Number(1))})},
			wantRemaining: Dict{},
		},
		{
			name:          "no directives",
			in:            Dict{"a": Number(1)},
			wantSettings:  Dict{},
			wantRemaining: Dict{"a": Number(1)},
		},
		{
			name:          "empty input",
			in:            Dict{},
			wantSettings:  Dict{},
			wantRemaining: Dict{},
		},
		{
			name:          "nil input",
			in:            nil,
			wantSettings:  Dict{},
			wantRemaining: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSettings(tt.in)
			if !got.Equal(tt.wantSettings) {
				t.Errorf("settings = %v, want %v", got, tt.wantSettings)
			}
			if !tt.in.Equal(tt.wantRemaining) {
				t.Errorf("remaining = %v, want %v", tt.in, tt.wantRemaining)
			}
		})
	}
}
