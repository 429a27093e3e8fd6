package txn

import (
	"testing"

	"github.com/brojonat/aptostx/service/bcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeTag(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"u64", "u64"},
		{"bool", "bool"},
		{"address", "address"},
		{"vector<u8>", "vector<u8>"},
		{"vector<vector<u256>>", "vector<vector<u256>>"},
		{AptosCoinType, "0x0000000000000000000000000000000000000000000000000000000000000001::aptos_coin::AptosCoin"},
		{"0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>", "0x0000000000000000000000000000000000000000000000000000000000000001::coin::CoinStore<0x0000000000000000000000000000000000000000000000000000000000000001::aptos_coin::AptosCoin>"},
		{"0x1::pair::Pair<u8, bool>", "0x0000000000000000000000000000000000000000000000000000000000000001::pair::Pair<u8, bool>"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tag, err := ParseTypeTag(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tag.String())
		})
	}
}

func TestParseTypeTag_Invalid(t *testing.T) {
	for _, input := range []string{"", "u7", "vector<u8", "0x1::coin", "0x1::coin::Coin<u8", "u64>", "0x1::co\xffin::Coin"} {
		_, err := ParseTypeTag(input)
		assert.ErrorIs(t, err, ErrInvalidTypeTag, "input %q", input)
	}
}

func TestTypeTag_Encoding(t *testing.T) {
	assert.Equal(t, []byte{0x02}, bcs.Serialize(MustParseTypeTag("u64")))
	assert.Equal(t, []byte{0x06, 0x01}, bcs.Serialize(MustParseTypeTag("vector<u8>")))

	coin := bcs.Serialize(MustParseTypeTag(AptosCoinType))
	var expected []byte
	expected = append(expected, 0x07)
	expected = append(expected, AddressOne[:]...)
	expected = append(expected, 0x0a)
	expected = append(expected, "aptos_coin"...)
	expected = append(expected, 0x09)
	expected = append(expected, "AptosCoin"...)
	expected = append(expected, 0x00)
	assert.Equal(t, expected, coin)
}

func TestNewEntryFunction(t *testing.T) {
	f, err := NewEntryFunction("0x1::coin::transfer", []string{AptosCoinType}, [][]byte{bcs.SerializeU64(5)})
	require.NoError(t, err)
	assert.Equal(t, AddressOne, f.Module.Address)
	assert.Equal(t, "coin", f.Module.Name)
	assert.Equal(t, "transfer", f.Function)
	require.Len(t, f.TypeArgs, 1)

	_, err = NewEntryFunction("0x1::coin", nil, nil)
	assert.Error(t, err)

	_, err = NewEntryFunction("nothex::coin::transfer", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewEntryFunction("0x1::coin::tr\xc3ansfer", nil, nil)
	assert.ErrorContains(t, err, "not utf-8")
}

func TestCoinTransferPayload(t *testing.T) {
	to := MustParseAddress("0x2")
	f, err := CoinTransferPayload(AptosCoinType, to, 10)
	require.NoError(t, err)
	assert.Equal(t, "transfer_coins", f.Function)
	assert.Equal(t, [][]byte{to[:], bcs.SerializeU64(10)}, f.Args)

	_, err = CoinTransferPayload("0x1::broken", to, 10)
	assert.ErrorIs(t, err, ErrInvalidTypeTag)
}

func TestScript_Encoding(t *testing.T) {
	sc := &Script{
		Code:     []byte{0xa1, 0x1c},
		TypeArgs: []TypeTag{},
		Args: []ScriptArgument{
			{Kind: ScriptArgU64, U64: 1},
			{Kind: ScriptArgBool, Bool: true},
		},
	}
	expected := []byte{0x00, 0x02, 0xa1, 0x1c, 0x00, 0x02}
	expected = append(expected, 0x01)
	expected = append(expected, bcs.SerializeU64(1)...)
	expected = append(expected, 0x05, 0x01)
	assert.Equal(t, expected, bcs.Serialize(sc))
}
