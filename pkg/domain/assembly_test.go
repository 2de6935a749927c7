package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefSeqAddSequenceCoalesces(t *testing.T) {
	var rs RefSeq
	require.NoError(t, rs.AddSequence(SequenceBlock{Start: 10, Stop: 14, Sequence: "GGGG"}))
	require.NoError(t, rs.AddSequence(SequenceBlock{Start: 0, Stop: 4, Sequence: "AAAA"}))
	require.Len(t, rs.Sequence, 2)

	require.NoError(t, rs.AddSequence(SequenceBlock{Start: 2, Stop: 10, Sequence: "AACCCCCC"}))
	require.Len(t, rs.Sequence, 1)
	assert.Equal(t, SequenceBlock{Start: 0, Stop: 14, Sequence: "AAAACCCCCCGGGG"}, rs.Sequence[0])

	assert.Equal(t, "CCCC", rs.GetSequence(4, 8))
	assert.Equal(t, "", rs.GetSequence(10, 20))
}

func TestRefSeqAddSequenceContainedBlock(t *testing.T) {
	var rs RefSeq
	require.NoError(t, rs.AddSequence(SequenceBlock{Start: 0, Stop: 6, Sequence: "ACGTAC"}))
	require.NoError(t, rs.AddSequence(SequenceBlock{Start: 2, Stop: 4, Sequence: "GT"}))
	assert.Equal(t, []SequenceBlock{{Start: 0, Stop: 6, Sequence: "ACGTAC"}}, rs.Sequence)
}

func TestRefSeqAddSequenceLengthMismatch(t *testing.T) {
	var rs RefSeq
	require.ErrorIs(t, rs.AddSequence(SequenceBlock{Start: 0, Stop: 3, Sequence: "AC"}), ErrMalformedChange)
	assert.Empty(t, rs.Sequence)
}

func TestRefSeqSummaryBuildsStoredRefSeq(t *testing.T) {
	s := RefSeqSummary{Name: "chr1", Length: 12, Description: "first", Sequence: []SequenceBlock{
		{Start: 4, Stop: 8, Sequence: "CCCC"},
		{Start: 0, Stop: 4, Sequence: "AAAA"},
	}}
	rs, err := s.RefSeq("a1:chr1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rs.Assembly)
	assert.Equal(t, int64(12), rs.Length)
	assert.Equal(t, []SequenceBlock{{Start: 0, Stop: 8, Sequence: "AAAACCCC"}}, rs.Sequence)
	assert.Equal(t, "", rs.GetSequence(6, 10))

	bare, err := RefSeqSummary{Name: "chr2", Length: 5}.RefSeq("a1:chr2", "a1")
	require.NoError(t, err)
	assert.Empty(t, bare.Sequence)

	for name, block := range map[string]SequenceBlock{
		"past end":  {Start: 10, Stop: 14, Sequence: "GGGG"},
		"negative":  {Start: -1, Stop: 1, Sequence: "GG"},
		"too short": {Start: 0, Stop: 4, Sequence: "GG"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := RefSeqSummary{Name: "chr1", Length: 12, Sequence: []SequenceBlock{block}}.RefSeq("x", "a1")
			require.ErrorIs(t, err, ErrMalformedChange)
		})
	}
}
