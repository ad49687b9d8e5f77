package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"strings"

	"perp_go/pkg/dexerr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	sourceMainnet = "a"
	sourceTestnet = "b"

	// L1 actions are signed against a fixed phantom domain.
	agentChainID      = 1337
	verifyingContract = "0x0000000000000000000000000000000000000000"
)

// Signature is the {r, s, v} triple sent with every exchange action.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

// Hex returns the 65-byte r||s||v signature as 0x-prefixed hex.
func (s Signature) Hex() string {
	return "0x" + strings.TrimPrefix(s.R, "0x") + strings.TrimPrefix(s.S, "0x") + hex.EncodeToString([]byte{s.V})
}

// SignedEnvelope is a signed action ready to post.
// Payload is the msgpack encoding the hash was computed over.
type SignedEnvelope struct {
	Payload   []byte
	Nonce     uint64
	Hash      common.Hash
	Digest    []byte
	Signature Signature
}

// Signer signs L1 actions with a secp256k1 key.
// The raw key is kept as []byte so Wipe can clear it.
type Signer struct {
	raw     []byte
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool
}

var _ slog.LogValuer = (*Signer)(nil)

// NewSigner parses a 32-byte hex private key, with or without 0x.
func NewSigner(hexKey string, mainnet bool) (*Signer, error) {
	const op = "new signer"
	s := strings.TrimSpace(hexKey)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, dexerr.New(dexerr.KindSigning, op, "private key is not valid hex")
	}
	if len(raw) != 32 {
		return nil, dexerr.Newf(dexerr.KindSigning, op, "private key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, dexerr.Wrap(dexerr.KindSigning, op, err)
	}
	return &Signer{
		raw:     raw,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
	}, nil
}

// Address is the signer's address in lowercase hex, the form the venue uses for "user".
func (s *Signer) Address() string { return strings.ToLower(s.address.Hex()) }

// AddressHex is the EIP-55 checksummed address.
func (s *Signer) AddressHex() string { return s.address.Hex() }

// LogValue keeps the key out of logs.
func (s *Signer) LogValue() slog.Value {
	return slog.GroupValue(slog.String("address", s.Address()), slog.Bool("mainnet", s.mainnet))
}

// Wipe clears the key material. The signer is unusable afterwards.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.raw {
		s.raw[i] = 0
	}
	if s.key != nil {
		s.key.D.SetInt64(0)
		s.key = nil
	}
}

// SignL1Action hashes action with nonce and optional vault and signs the
// result as an EIP-712 Agent message.
func (s *Signer) SignL1Action(action any, nonce uint64, vault *common.Address) (SignedEnvelope, error) {
	const op = "sign action"
	if s == nil || s.key == nil {
		return SignedEnvelope{}, dexerr.New(dexerr.KindSigning, op, "signer has no key")
	}
	payload, hash, err := ActionHash(action, nonce, vault)
	if err != nil {
		return SignedEnvelope{}, err
	}
	digest, err := agentDigest(hash, s.mainnet)
	if err != nil {
		return SignedEnvelope{}, dexerr.Wrap(dexerr.KindSigning, op, err)
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return SignedEnvelope{}, dexerr.Wrap(dexerr.KindSigning, op, err)
	}
	return SignedEnvelope{
		Payload: payload,
		Nonce:   nonce,
		Hash:    hash,
		Digest:  digest,
		Signature: Signature{
			R: hexutil.Encode(sig[:32]),
			S: hexutil.Encode(sig[32:64]),
			V: sig[64] + 27,
		},
	}, nil
}

// ActionHash returns the msgpack payload of action and the keccak256 of
// payload || nonce (8 bytes big-endian) || vault flag [|| vault].
// Struct field order decides the msgpack byte order.
func ActionHash(action any, nonce uint64, vault *common.Address) ([]byte, common.Hash, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, common.Hash{}, dexerr.Wrap(dexerr.KindSigning, "encode action", err)
	}
	payload := bytes.Clone(buf.Bytes())

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf.Write(n[:])
	if vault == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		buf.Write(vault.Bytes())
	}
	return payload, crypto.Keccak256Hash(buf.Bytes()), nil
}

func agentDigest(connectionID common.Hash, mainnet bool) ([]byte, error) {
	source := sourceTestnet
	if mainnet {
		source = sourceMainnet
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(agentChainID),
			VerifyingContract: verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID.Bytes(),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	return digest, err
}

// parseAddress accepts an optional 0x-prefixed 20-byte address. Empty yields nil.
func parseAddress(op, s string) (*common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !common.IsHexAddress(s) {
		return nil, dexerr.Newf(dexerr.KindInvalid, op, "%q is not an address", s)
	}
	a := common.HexToAddress(s)
	return &a, nil
}
