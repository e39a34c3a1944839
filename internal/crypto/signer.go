package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/pben56681-png/clobarb/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// amountScale converts human sizes and prices into the exchange's 6-decimal
// fixed-point integers (USDC and conditional tokens both use 6 decimals).
const amountScale = 1_000_000

// Signer turns order intents into signed, submittable CLOB orders using
// EIP-712 over secp256k1.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int

	authDomainSep     []byte
	exchangeDomainSep []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, the
// target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet), and the
// exchange contract address orders are verified against.
func NewSigner(privateKeyHex string, chainID int, exchangeAddr string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}

	s.authDomainSep = ethcrypto.Keccak256(
		concatBytes(
			authDomainTypeHash,
			ethcrypto.Keccak256([]byte("ClobAuthDomain")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
	s.exchangeDomainSep = ethcrypto.Keccak256(
		concatBytes(
			exchangeDomainTypeHash,
			ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
			common.LeftPadBytes(common.HexToAddress(exchangeAddr).Bytes(), 32),
		),
	)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs a ClobAuth EIP-712 message used to obtain an API key
// from the CLOB. The returned string is a hex-encoded signature with recovery
// byte (65 bytes total).
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(address)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			clobAuthTypeHash,
			common.LeftPadBytes(addr.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(timestamp)),
			bigIntTo32Bytes(big.NewInt(nonce)),
		),
	)

	digest := eip712Hash(s.authDomainSep, structHash)
	return s.signDigest(digest)
}

// SignIntent builds the exchange order for an intent and signs it. For buys
// the maker amount is collateral and the taker amount is tokens; sells are the
// reverse. Amounts are floored to the exchange's 6-decimal fixed point.
func (s *Signer) SignIntent(intent domain.OrderIntent, feeRateBps int) (domain.SignedOrder, error) {
	salt, err := randomSalt()
	if err != nil {
		return domain.SignedOrder{}, err
	}

	tokens := int64(intent.Size * amountScale)
	collateral := int64(intent.Price * intent.Size * amountScale)

	order := domain.SignedOrder{
		Intent:        intent,
		Salt:          salt.String(),
		Maker:         s.address.Hex(),
		Signer:        s.address.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       intent.TokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(feeRateBps),
		SignatureType: 0,
	}
	// FAK flatten orders carry a short expiration so a stuck order cannot
	// linger on the book.
	if intent.Type == domain.OrderTypeFAK {
		order.Expiration = strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10)
	}
	if intent.Side == domain.OrderSideBuy {
		order.Side = 0
		order.MakerAmount = strconv.FormatInt(collateral, 10)
		order.TakerAmount = strconv.FormatInt(tokens, 10)
	} else {
		order.Side = 1
		order.MakerAmount = strconv.FormatInt(tokens, 10)
		order.TakerAmount = strconv.FormatInt(collateral, 10)
	}

	structHash, err := orderStructHash(order)
	if err != nil {
		return domain.SignedOrder{}, err
	}

	sig, err := s.signDigest(eip712Hash(s.exchangeDomainSep, structHash))
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("crypto/signer: order %s: %w", intent.ID, domain.ErrSigningFailed)
	}
	order.Signature = sig

	return order, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// orderStructHash encodes and hashes a SignedOrder's fields per EIP-712.
func orderStructHash(o domain.SignedOrder) ([]byte, error) {
	salt, err := decimalBig("salt", o.Salt)
	if err != nil {
		return nil, err
	}
	tokenID, err := decimalBig("tokenId", o.TokenID)
	if err != nil {
		return nil, err
	}
	makerAmt, err := decimalBig("makerAmount", o.MakerAmount)
	if err != nil {
		return nil, err
	}
	takerAmt, err := decimalBig("takerAmount", o.TakerAmount)
	if err != nil {
		return nil, err
	}
	expiration, err := decimalBig("expiration", o.Expiration)
	if err != nil {
		return nil, err
	}
	nonce, err := decimalBig("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	feeRate, err := decimalBig("feeRateBps", o.FeeRateBps)
	if err != nil {
		return nil, err
	}

	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			bigIntTo32Bytes(salt),
			common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
			common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
			bigIntTo32Bytes(tokenID),
			bigIntTo32Bytes(makerAmt),
			bigIntTo32Bytes(takerAmt),
			bigIntTo32Bytes(expiration),
			bigIntTo32Bytes(nonce),
			bigIntTo32Bytes(feeRate),
			bigIntTo32Bytes(big.NewInt(int64(o.Side))),
			bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
		),
	), nil
}

// decimalBig parses a base-10 unsigned integer string.
func decimalBig(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid %s %q", field, s)
	}
	return n, nil
}

// randomSalt draws a random 64-bit salt.
func randomSalt() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating salt: %w", err)
	}
	return n, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
