package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
token:
  address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  chain_id: 31337
  deployment_block: 1
realms:
  - id: 1
    name: PodRunRealm
    revenue_share_pct: 80
    address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
    chain_id: 31337
    deployment_block: 2
  - id: 2
    name: SecondRealm
    address: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
    chain_id: 31337
    deployment_block: 3
`

const registryTOML = `
[token]
address = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
chain_id = 31337
deployment_block = 1

[[realms]]
id = 1
name = "PodRunRealm"
revenue_share_pct = 80
address = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
chain_id = 31337
deployment_block = 2

[[realms]]
id = 2
name = "SecondRealm"
address = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
chain_id = 31337
deployment_block = 3
`

func TestParseRegistry_YAML(t *testing.T) {
	reg, err := ParseRegistry([]byte(registryYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), reg.Token.Address)
	assert.Equal(t, uint64(1), reg.Token.DeploymentBlock)
	assert.Equal(t, []uint16{1, 2}, reg.RealmIDs())

	realm, ok := reg.Realm(1)
	require.True(t, ok)
	assert.Equal(t, "PodRunRealm", realm.Name)
	assert.Equal(t, uint8(80), realm.RevenueSharePct)
	assert.Equal(t, uint64(2), realm.DeploymentBlock)

	byAddr, ok := reg.RealmByAddress(common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"))
	require.True(t, ok)
	assert.Equal(t, uint16(2), byAddr.ID)

	assert.False(t, reg.HasRealm(9))
	assert.Len(t, reg.Checksum(), 64)
}

func TestParseRegistry_TOMLMatchesYAML(t *testing.T) {
	fromYAML, err := ParseRegistry([]byte(registryYAML), "yaml")
	require.NoError(t, err)
	fromTOML, err := ParseRegistry([]byte(registryTOML), "toml")
	require.NoError(t, err)

	assert.Equal(t, fromYAML.Checksum(), fromTOML.Checksum())
	assert.Equal(t, fromYAML.Realms, fromTOML.Realms)
}

func TestRegistry_ChecksumChangesWithRealmSet(t *testing.T) {
	reg, err := ParseRegistry([]byte(registryYAML), "yaml")
	require.NoError(t, err)

	fewer, err := NewRegistry(reg.Token, reg.Realms[:1])
	require.NoError(t, err)

	assert.NotEqual(t, reg.Checksum(), fewer.Checksum())
}

func TestNewRegistry_Validation(t *testing.T) {
	token := Contract{Address: common.HexToAddress("0x01")}
	realmA := RealmConfig{ID: 1, Contract: Contract{Address: common.HexToAddress("0x0a")}}
	realmB := RealmConfig{ID: 2, Contract: Contract{Address: common.HexToAddress("0x0b")}}

	_, err := NewRegistry(Contract{}, nil)
	assert.Error(t, err, "zero token address")

	_, err = NewRegistry(token, []RealmConfig{realmA, {ID: 1, Contract: realmB.Contract}})
	assert.Error(t, err, "duplicate id")

	_, err = NewRegistry(token, []RealmConfig{realmA, {ID: 2, Contract: realmA.Contract}})
	assert.Error(t, err, "duplicate address")

	_, err = NewRegistry(token, []RealmConfig{{ID: 3}})
	assert.Error(t, err, "zero realm address")

	reg, err := NewRegistry(token, []RealmConfig{realmA, realmB})
	require.NoError(t, err)
	assert.Len(t, reg.Realms, 2)
}

func TestParseRegistry_Errors(t *testing.T) {
	_, err := ParseRegistry([]byte(registryYAML), "json")
	assert.Error(t, err)

	_, err = ParseRegistry([]byte("token:\n  address: nope\n"), "yaml")
	assert.Error(t, err)
}

func TestLoadRegistry_FromFile(t *testing.T) {
	path := writeFile(t, "realms.toml", registryTOML)

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reg.Realms, 2)
}
