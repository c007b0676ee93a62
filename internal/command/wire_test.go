package command_test

import (
	"NoteLedger/internal/command"
	"NoteLedger/internal/ledger"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCreateNote(t *testing.T) {
	data := []byte(`{
		"request_id": "550e8400-e29b-41d4-a716-446655440000",
		"goal": "340282366920938463463374607431768211455",
		"token_ref": "0x00000000000000000000000000000000000000aa",
		"beneficiary": "0x00000000000000000000000000000000000000bb",
		"terms": "NXkgZml4ZWQ="
	}`)

	c, err := command.DecodeCreateNote(data)
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), c.RequestID())
	assert.Equal(t, command.CommandTypeCreateNote, c.CommandType())
	assert.Equal(t, "340282366920938463463374607431768211455", c.Goal.Dec())
	assert.Equal(t, common.HexToAddress("0xaa"), c.TokenRef)
	assert.Equal(t, common.HexToAddress("0xbb"), c.Beneficiary)
	assert.Equal(t, []byte("5y fixed"), c.Terms)
}

func TestDecodeInvest_MissingRequestIDIsNil(t *testing.T) {
	c, err := command.DecodeInvest([]byte(`{"note_id": 7, "investor": "0x0000000000000000000000000000000000000001", "amount": "60"}`))
	require.NoError(t, err)

	assert.Equal(t, uuid.Nil, c.RequestID())
	assert.Equal(t, ledger.NoteID(7), c.NoteID())
	assert.Equal(t, uint64(60), c.Amount.Uint64())
}

// Zero amounts are left for the ledger to reject so that NoteNotFound is
// still reported first.
func TestDecodeInvest_ZeroAmountPassesThrough(t *testing.T) {
	c, err := command.DecodeInvest([]byte(`{"note_id": 1, "investor": "0x0000000000000000000000000000000000000001", "amount": "0"}`))
	require.NoError(t, err)
	assert.True(t, c.Amount.IsZero())
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name string
		typ  command.CommandType
		data string
	}{
		{"bad json", command.CommandTypeClaim, `{`},
		{"bad request id", command.CommandTypeClaim, `{"request_id":"nope","note_id":1,"investor":"0x0000000000000000000000000000000000000001"}`},
		{"bad address", command.CommandTypeClaim, `{"note_id":1,"investor":"alice"}`},
		{"negative amount", command.CommandTypeDepositYield, `{"note_id":1,"payer":"0x0000000000000000000000000000000000000001","amount":"-5"}`},
		{"fractional amount", command.CommandTypeInvest, `{"note_id":1,"investor":"0x0000000000000000000000000000000000000001","amount":"1.5"}`},
		{"unknown type", command.CommandTypeUnknown, `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := command.Decode(tc.typ, []byte(tc.data))
			assert.True(t, errors.Is(err, command.ErrInvalidCommand), "got %v", err)
		})
	}
}

func TestDecode_HugeAmountIsOverflow(t *testing.T) {
	huge := "1" + strings.Repeat("0", 80)
	_, err := command.DecodeInvest([]byte(`{"note_id":1,"investor":"0x0000000000000000000000000000000000000001","amount":"` + huge + `"}`))

	assert.True(t, errors.Is(err, command.ErrInvalidCommand))
	assert.True(t, errors.Is(err, ledger.ErrAmountOverflow))
}

func TestEncodeDecode(t *testing.T) {
	orig := &command.DepositYield{
		ID:     uuid.New(),
		Note:   3,
		Payer:  common.HexToAddress("0x0000000000000000000000000000000000000009"),
		Amount: uint256.NewInt(12345),
	}

	data, err := command.Encode(orig)
	require.NoError(t, err)

	back, err := command.Decode(command.CommandTypeDepositYield, data)
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}

func TestParseCommandType(t *testing.T) {
	assert.Equal(t, command.CommandTypeCreateNote, command.ParseCommandType("create"))
	assert.Equal(t, command.CommandTypeDepositYield, command.ParseCommandType("deposit"))
	assert.Equal(t, command.CommandTypeClaim, command.ParseCommandType("Claim"))
	assert.Equal(t, command.CommandTypeUnknown, command.ParseCommandType("withdraw"))
	assert.Equal(t, "Invest", command.CommandTypeInvest.String())
}

func TestEncodeCreateNote_TermsAreOpaque(t *testing.T) {
	terms := []byte{0x00, 0xff, 0xfe, 0x80, 0x78}
	in := &command.CreateNote{
		ID:          uuid.New(),
		Goal:        uint256.NewInt(1000),
		TokenRef:    common.HexToAddress("0xaa"),
		Beneficiary: common.HexToAddress("0xbb"),
		Terms:       terms,
	}

	data, err := command.Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"terms":"AP/+gHg="`)

	out, err := command.DecodeCreateNote(data)
	require.NoError(t, err)
	assert.Equal(t, terms, out.Terms)
}

func TestDecodeCreateNote_TermsMustBeBase64(t *testing.T) {
	_, err := command.DecodeCreateNote([]byte(`{"goal":"1","token_ref":"0x00000000000000000000000000000000000000aa","beneficiary":"0x00000000000000000000000000000000000000bb","terms":"not base64!"}`))
	assert.True(t, errors.Is(err, command.ErrInvalidCommand), "got %v", err)
}
