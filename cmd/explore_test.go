package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skirt-explorer/skirt-explorer/explore/host"
	"github.com/skirt-explorer/skirt-explorer/explore/remote"
)

func TestResolveTriState(t *testing.T) {
	// GIVEN a config-file default and an "on"/"off"/"" CLI override
	// WHEN resolving the effective boolean
	// THEN "on"/"off" win over the default, "" keeps it
	assert.True(t, resolveTriState("on", false))
	assert.False(t, resolveTriState("off", true))
	assert.True(t, resolveTriState("", true))
	assert.False(t, resolveTriState("", false))
}

func TestNextRepresentation(t *testing.T) {
	assert.Equal(t, "default_r1", nextRepresentation(""))
	assert.Equal(t, "coarse_r1", nextRepresentation("coarse"))
	assert.Equal(t, "coarse_r2", nextRepresentation("coarse_r1"))
	assert.Equal(t, "coarse_r11", nextRepresentation("coarse_r10"))
}

func TestFilterHosts(t *testing.T) {
	hosts := []host.HostSpec{{ID: "local"}, {ID: "hpc01"}, {ID: "hpc02"}}

	out := filterHosts(hosts, []string{"hpc02"})

	require := assert.New(t)
	require.Len(out, 1)
	require.Equal("hpc02", out[0].ID)
}

func TestShellOpenersFor_SkipsLocalBuildsRemote(t *testing.T) {
	hosts := []host.HostSpec{
		{ID: "local"},
		{ID: "hpc01", Login: &host.LoginInfo{Addr: "hpc01.example.org", User: "ops", Port: 2222}},
		{ID: "hpc02", Login: &host.LoginInfo{Addr: "hpc02.example.org"}},
	}

	openers := shellOpenersFor(hosts)

	assert.Len(t, openers, 2)
	assert.NotContains(t, openers, "local")

	o1, ok := openers["hpc01"].(remote.ShellOpener)
	assert.True(t, ok)
	assert.Equal(t, "ssh", o1.Config.Command)
	assert.Equal(t, []string{"-p", "2222", "ops@hpc01.example.org"}, o1.Config.Args)

	o2, ok := openers["hpc02"].(remote.ShellOpener)
	assert.True(t, ok)
	assert.Equal(t, []string{"hpc02.example.org"}, o2.Config.Args)
}

func TestSimulationIndex(t *testing.T) {
	idx, ok := simulationIndex("fit_gen0_3")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)

	_, ok = simulationIndex("noindex")
	assert.False(t, ok)
}

func TestParseIDRanges(t *testing.T) {
	out, err := parseIDRanges([]string{"hpc01:1-3", "hpc02:5-6"})
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(map[int]string{1: "hpc01", 2: "hpc01", 3: "hpc01", 5: "hpc02", 6: "hpc02"}, out)
}

func TestParseIDRanges_InvalidEntry(t *testing.T) {
	_, err := parseIDRanges([]string{"bogus"})
	assert.Error(t, err)
}
