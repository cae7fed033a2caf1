package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack-archive/namos/resolver"
)

func TestDefault_Loads(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	for _, family := range []string{
		"db_backend", "database.backend", "rpc_backend", "compute_driver",
		"volume_driver", "backup_driver", "zone_driver", "dhcp_driver",
		"interface_driver", "ml2.mechanism_drivers", "ml2.type_drivers",
		"firewall_driver", "SECURITY_GROUP.firewall_driver", "glance_store.stores",
	} {
		assert.True(t, r.HasFamily(family), family)
	}
	assert.False(t, r.HasFamily("DEFAULT.debug"))
	assert.IsNonDecreasing(t, r.Families())
}

func TestResolve_AliasMatchesTarget(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	tests := []struct {
		family, alias, targetFamily, target string
	}{
		{"db_backend", "sqlalchemy", "database.backend", "sqlalchemy"},
		{"rpc_backend", "nova.openstack.common.rpc.impl_kombu", "rpc_backend", "rabbit"},
		{"glance_store.stores", "file", "glance_store.stores", "glance_store._drivers.filesystem.Store"},
		{"ml2.mechanism_drivers", "openvswitch", "ml2.mechanism_drivers", "neutron.plugins.ml2.drivers.mech_openvswitch.OpenvswitchMechanismDriver"},
		{"SECURITY_GROUP.firewall_driver", "neutron.agent.linux.iptables_firewall.OVSHybridIptablesFirewallDriver", "firewall_driver", "neutron.agent.linux.iptables_firewall.OVSHybridIptablesFirewallDriver"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			viaAlias, err := r.Resolve(tt.family, tt.alias)
			require.NoError(t, err)
			direct, err := r.Resolve(tt.targetFamily, tt.target)
			require.NoError(t, err)
			assert.Same(t, direct, viaAlias)
			assert.Equal(t, tt.target, viaAlias.Driver)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	_, err = r.Resolve("nope", "x")
	assert.ErrorIs(t, err, ErrUnknownFamily)

	_, err = r.Resolve("compute_driver", "fake.FakeDriver")
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = r.Resolve("volume_driver", "cinder.volume.drivers.nfs.NfsDriver")
	assert.ErrorIs(t, err, ErrUnmapped)
}

func TestSelect_Variants(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	libvirt, err := r.Resolve("compute_driver", "libvirt.LibvirtDriver")
	require.NoError(t, err)

	snap := resolver.Snapshot{
		"libvirt.virt_type":     "kvm",
		"host":                  "compute-1",
		"xenapi_connection_url": "http://xen",
	}

	sel, err := libvirt.Select(snap)
	require.NoError(t, err)
	assert.Equal(t, "kvm", sel.EndpointType)
	name, err := resolver.EvalString(sel.Device.Name, snap)
	require.NoError(t, err)
	assert.Equal(t, "kvm host compute-1", name)

	snap["libvirt.virt_type"] = "xen"
	sel, err = libvirt.Select(snap)
	require.NoError(t, err)
	name, err = resolver.EvalString(sel.Device.Name, snap)
	require.NoError(t, err)
	assert.Equal(t, "xen http://xen", name, "variant device overrides the template device")
	assert.Len(t, sel.Endpoint.Connection, 3)

	snap["libvirt.virt_type"] = "uml"
	_, err = libvirt.Select(snap)
	assert.ErrorIs(t, err, ErrUnknownVariant)

	delete(snap, "libvirt.virt_type")
	_, err = libvirt.Select(snap)
	assert.True(t, resolver.IsMissingReference(err))
}

func TestSelect_ConstantType(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	lefthand, err := r.Resolve("volume_driver", "cinder.volume.drivers.san.hp.hp_lefthand_iscsi.HPLeftHandISCSIDriver")
	require.NoError(t, err)

	sel, err := lefthand.Select(resolver.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "REST", sel.EndpointType)
}

func TestSelect_ChildDevice(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	vc, err := r.Resolve("compute_driver", "vmwareapi.VMwareVCDriver")
	require.NoError(t, err)

	sel, err := vc.Select(resolver.Snapshot{})
	require.NoError(t, err)
	require.NotNil(t, sel.ChildDevice)
	assert.Equal(t, "vmware.cluster_name", sel.ChildDevice.Key.String())
}

func TestMetadata(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	md, ok := r.Metadata("libvirt.LibvirtDriver")
	require.True(t, ok)
	assert.Equal(t, "nova", md.Type)
	assert.Equal(t, StringList{"hypervisor", "container"}, md.Class)
	assert.Equal(t, []string{"hypervisor", "container"}, md.AsExtra()["class"])

	md, ok = r.Metadata("cinder.volume.drivers.san.hp.hp_3par_fc.HP3PARFCDriver")
	require.True(t, ok)
	require.NotNil(t, md.Deprecation)
	assert.Equal(t, "2012.1", md.Deprecation.Since)
	assert.Contains(t, md.Other, "requirements_txt")

	_, ok = r.Metadata("glance_store._drivers.vmware_datastore.Store")
	assert.True(t, ok)
}

func TestLoad_Rejects(t *testing.T) {
	funcs := resolver.DefaultFuncs()

	tests := []struct {
		name   string
		schema string
	}{
		{
			name: "alias chain",
			schema: `
families:
  f:
    a: {alias: "f:b"}
    b: {alias: "f:c"}
    c: {endpoint: {name: x, connection: {}}, device: {name: x}}
`,
		},
		{
			name: "missing alias target",
			schema: `
families:
  f:
    a: {alias: "g:b"}
`,
		},
		{
			name: "alias without family",
			schema: `
families:
  f:
    a: {alias: "b"}
`,
		},
		{
			name: "no device",
			schema: `
families:
  f:
    a: {endpoint: {name: x, connection: {}}}
`,
		},
		{
			name: "template verb mismatch",
			schema: `
families:
  f:
    a: {endpoint: {name: ["%s:%s", x], connection: {}}, device: {name: x}}
`,
		},
		{
			name: "type without variants",
			schema: `
families:
  f:
    a: {endpoint: {type: t, name: x}, device: {name: x}}
`,
		},
		{
			name:   "not yaml",
			schema: "families: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.schema), nil, funcs)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Minimal(t *testing.T) {
	schema := `
families:
  f:
    one:
      endpoint:
        name: "#ep"
        connection:
          addr: {call: rpc_name, args: [addr]}
      device:
        name: ["dev %s", addr]
    two: {alias: "f:one"}
    three: ~
`
	r, err := Load([]byte(schema), nil, resolver.DefaultFuncs())
	require.NoError(t, err)

	tmpl, err := r.Resolve("f", "two")
	require.NoError(t, err)
	assert.Equal(t, "one", tmpl.Driver)
	require.Len(t, tmpl.Endpoint.Connection, 1)
	assert.Equal(t, "addr", tmpl.Endpoint.Connection[0].Name)

	_, ok := r.Metadata("one")
	assert.False(t, ok)
}
