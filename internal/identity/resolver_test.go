package identity

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/neynartodes/backend/internal/farcaster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	custodyAddr = "0x1000000000000000000000000000000000000001"
	verifiedA   = "0x2000000000000000000000000000000000000002"
	verifiedB   = "0x3000000000000000000000000000000000000003"
	primaryAddr = "0x4000000000000000000000000000000000000004"
)

func TestFromUser_PrimaryPriority(t *testing.T) {
	// Primary-verified wins over first-verified and custody.
	p := FromUser(farcaster.User{
		FID:               1,
		CustodyAddress:    custodyAddr,
		VerifiedAddresses: []string{verifiedA, verifiedB},
		PrimaryEthAddress: primaryAddr,
	})
	require.NotNil(t, p)
	assert.Equal(t, common.HexToAddress(primaryAddr), p.Primary)
	assert.Len(t, p.Addresses, 4)

	// Without a primary, the first verified address wins.
	p = FromUser(farcaster.User{
		FID:               2,
		CustodyAddress:    custodyAddr,
		VerifiedAddresses: []string{verifiedA, verifiedB},
	})
	require.NotNil(t, p)
	assert.Equal(t, common.HexToAddress(verifiedA), p.Primary)

	// Custody is the last resort.
	p = FromUser(farcaster.User{FID: 3, CustodyAddress: custodyAddr})
	require.NotNil(t, p)
	assert.Equal(t, common.HexToAddress(custodyAddr), p.Primary)
}

func TestFromUser_DeduplicatesAddresses(t *testing.T) {
	p := FromUser(farcaster.User{
		FID:               1,
		CustodyAddress:    custodyAddr,
		VerifiedAddresses: []string{verifiedA, custodyAddr, "0x2000000000000000000000000000000000000002"},
		PrimaryEthAddress: verifiedA,
	})
	require.NotNil(t, p)
	assert.Len(t, p.Addresses, 2)
}

func TestFromUser_NoAddresses(t *testing.T) {
	assert.Nil(t, FromUser(farcaster.User{FID: 1, Username: "ghost"}))
	assert.Nil(t, FromUser(farcaster.User{FID: 2, CustodyAddress: "not-an-address"}))
	assert.Nil(t, FromUser(farcaster.User{FID: 3, CustodyAddress: "0x0000000000000000000000000000000000000000"}))
}

func TestResolve_DropsUnresolvedAndKeepsRosterOrder(t *testing.T) {
	social := farcaster.NewStubClient()
	social.AddUser(farcaster.User{FID: 10, Username: "a", CustodyAddress: custodyAddr})
	social.AddUser(farcaster.User{FID: 30, Username: "c", CustodyAddress: verifiedA})
	social.AddUser(farcaster.User{FID: 40, Username: "noaddr"})

	participants, err := Resolve(context.Background(), social, []uint64{10, 20, 30, 40})
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, uint64(10), participants[0].FID)
	assert.Equal(t, uint64(30), participants[1].FID)
}

func TestResolve_PropagatesAPIError(t *testing.T) {
	social := farcaster.NewStubClient()
	social.SetFailNext()
	_, err := Resolve(context.Background(), social, []uint64{1})
	assert.Error(t, err)
}
