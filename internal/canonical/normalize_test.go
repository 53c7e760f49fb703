package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
)

func TestInferIndicatorType(t *testing.T) {
	tests := []struct {
		value string
		want  entities.IndicatorType
	}{
		{"1.2.3.4", entities.IndicatorIP},
		{"2001:db8::1", entities.IndicatorIP},
		{"http://evil.example/x", entities.IndicatorURL},
		{"ops@evil.example", entities.IndicatorEmail},
		{"CVE-2024-3400", entities.IndicatorCVE},
		{"d41d8cd98f00b204e9800998ecf8427e", entities.IndicatorMD5},
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", entities.IndicatorSHA1},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", entities.IndicatorSHA256},
		{"evil.example", entities.IndicatorDomain},
		{"mutex-xyz", entities.IndicatorOther},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, InferIndicatorType(tt.value))
		})
	}
}

func TestNormalizeIndicator(t *testing.T) {
	v, typ := NormalizeIndicator("  Evil.Example. ", "")
	assert.Equal(t, "evil.example", v)
	assert.Equal(t, entities.IndicatorDomain, typ)

	v, _ = NormalizeIndicator("HTTP://Evil.Example/Path", "")
	assert.Equal(t, "http://evil.example/path", v)

	v, _ = NormalizeIndicator("D41D8CD98F00B204E9800998ECF8427E", "")
	assert.Equal(t, "D41D8CD98F00B204E9800998ECF8427E", v, "hashes keep their case")

	// fullwidth digits fold to ASCII under NFKC
	v, typ = NormalizeIndicator("１.２.３.４", "")
	assert.Equal(t, "1.2.3.4", v)
	assert.Equal(t, entities.IndicatorIP, typ)
}

func TestFoldKeyAndBaseTechnique(t *testing.T) {
	assert.Equal(t, FoldKey("APT28"), FoldKey(" apt28 "))
	assert.Equal(t, FoldKey("Straße"), FoldKey("STRASSE"))
	assert.Equal(t, "T1566", BaseTechnique("T1566.001"))
	assert.Equal(t, "T1190", BaseTechnique("T1190"))
}

func TestParseMention(t *testing.T) {
	m, err := ParseMention(&RawMention{Kind: "indicator", Value: "1.2.3.0", Confidence: 60})
	require.NoError(t, err)
	ind, ok := m.(IndicatorMention)
	require.True(t, ok)
	assert.Equal(t, entities.IndicatorIP, ind.Type)
	assert.Equal(t, entities.ExtractedFromOriginal, ind.ExtractedFrom)

	m, err = ParseMention(&RawMention{Kind: "Technique", MitreCode: " T1566 ", Confidence: 140, ExtractedFrom: "summary"})
	require.NoError(t, err)
	assert.Equal(t, "T1566", m.Key())
	assert.Equal(t, 100, m.Meta().Confidence)
	assert.Equal(t, entities.ExtractedFromSummary, m.Meta().ExtractedFrom)

	m, err = ParseMention(&RawMention{Kind: "actor", Name: "APT-X", Aliases: []string{"apt-x", "Sandstorm", " "}})
	require.NoError(t, err)
	actor := m.(ActorMention)
	assert.Equal(t, "apt-x", actor.Key())
	assert.Equal(t, []string{"Sandstorm"}, actor.Aliases)

	malformed := []RawMention{
		{Kind: "indicator"},
		{Kind: "technique"},
		{Kind: "actor", Name: "  "},
		{Kind: "malware", Value: "x"},
		{Kind: "indicator", Value: "x", IndicatorType: "bogus"},
		{Kind: "indicator", Value: "x", ExtractedFrom: "tweet"},
	}
	for _, raw := range malformed {
		_, err := ParseMention(&raw)
		require.Error(t, err, "%+v", raw)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}
