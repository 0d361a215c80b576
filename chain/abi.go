package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const minerABIJSON = `[
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getAgentIdentity","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"roleId","type":"uint8"},
     {"name":"traitSeed","type":"bytes32"},
     {"name":"mintedAt","type":"uint256"}]}]}
]`

const tokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"symbol","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`

const dividendABIJSON = `[
  {"type":"function","name":"pendingDividend","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"rewardToken","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"nfaContract","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"pendingIncoming","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lastRecordedBalance","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"distribute","stateMutability":"nonpayable",
   "inputs":[],
   "outputs":[]},
  {"type":"function","name":"claimDividend","stateMutability":"nonpayable",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	minerABI    = mustParseABI(minerABIJSON)
	tokenABI    = mustParseABI(tokenABIJSON)
	dividendABI = mustParseABI(dividendABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// identityTuple mirrors the getAgentIdentity return struct. Field names
// follow the abi package's camel-casing of the component names.
type identityTuple struct {
	RoleId    uint8
	TraitSeed [32]byte
	MintedAt  *big.Int
}
