package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Sample
		wantErr bool
	}{
		{
			name: "plain decimals",
			line: "1.23,4.56",
			want: Sample{Primary: 1.23, Secondary: 4.56},
		},
		{
			name: "scientific notation",
			line: "+1.02345E-09,-4.5678E-03",
			want: Sample{Primary: 1.02345e-9, Secondary: -4.5678e-3},
		},
		{
			name: "surrounding whitespace and carriage return",
			line: " 10 , 0.5\r",
			want: Sample{Primary: 10, Secondary: 0.5},
		},
		{
			name:    "not numeric",
			line:    "bad-data",
			wantErr: true,
		},
		{
			name:    "empty",
			line:    "",
			wantErr: true,
		},
		{
			name:    "single field",
			line:    "1.23",
			wantErr: true,
		},
		{
			name:    "too many fields",
			line:    "1.23,4.56,7.89",
			wantErr: true,
		},
		{
			name:    "non-numeric secondary",
			line:    "1.23,abc",
			wantErr: true,
		},
		{
			name:    "empty primary",
			line:    ",4.56",
			wantErr: true,
		},
		{
			name:    "NaN",
			line:    "NaN,1",
			wantErr: true,
		},
		{
			name:    "infinity",
			line:    "1,+Inf",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedSample)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Primary, got.Primary, 1e-15)
			assert.InDelta(t, tt.want.Secondary, got.Secondary, 1e-15)
		})
	}
}

func TestParseLines(t *testing.T) {
	samples, dropped := ParseLines([]string{"1,2", "bad-data", "3,4", ""})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []Sample{{1, 2}, {3, 4}}, samples)
}

func TestParseLines_Empty(t *testing.T) {
	samples, dropped := ParseLines(nil)
	assert.Empty(t, samples)
	assert.Zero(t, dropped)
}

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, st.N)
	assert.InDelta(t, 5.0, st.Mean, 1e-12)
	assert.InDelta(t, 2.0, st.Std, 1e-12)
	assert.Equal(t, 2.0, st.Min)
	assert.Equal(t, 9.0, st.Max)

	assert.Equal(t, Stats{}, Summarize(nil))
}
