package nvme

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/nvmepts/pkg/pts/shell"
)

const listV1 = `{
  "Devices" : [
    {
      "Subsystem" : "nvme-subsys0",
      "SubsystemNQN" : "nqn.2014.08.org.nvmexpress:144d144dS4EWNF0M123456",
      "Controllers" : [
        {
          "Controller" : "nvme0",
          "Transport" : "pcie",
          "Address" : "0000:01:00.0",
          "SerialNumber" : "S4EWNF0M123456",
          "ModelNumber" : "Samsung SSD 970 EVO Plus 1TB",
          "Firmware" : "2B2QEXM7",
          "Namespaces" : [
            {
              "NameSpace" : "nvme0n1",
              "NSID" : 1,
              "UsedBytes" : 49356754944,
              "MaximumLBA" : 1953525168,
              "PhysicalSize" : 1000204886016,
              "SectorSize" : 512
            }
          ]
        }
      ]
    }
  ]
}`

const listV2 = `{
  "Devices":[
    {
      "HostNQN":"nqn.2014-08.org.nvmexpress:uuid:0000",
      "Subsystems":[
        {
          "Subsystem":"nvme-subsys1",
          "Controllers":[
            {"Controller":"nvme1","Transport":"pcie","Address":"0000:02:00.0","Namespaces":[]}
          ],
          "Namespaces":[
            {"NameSpace":"nvme1n1","Generic":"ng1n1","NSID":1,"UsedBytes":0,"MaximumLBA":781422768,"PhysicalSize":400088457216,"SectorSize":512}
          ]
        }
      ]
    }
  ]
}`

func TestFindNamespace(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		dev     string
		size    int64
		wantErr error
	}{
		{"v1 full path", listV1, "/dev/nvme0n1", 1000204886016, nil},
		{"v1 basename", listV1, "nvme0n1", 1000204886016, nil},
		{"v2 subsystem namespaces", listV2, "/dev/nvme1n1", 400088457216, nil},
		{"not found", listV1, "/dev/nvme9n1", 0, ErrNamespaceNotFound},
		{"controller is not a namespace", listV1, "/dev/nvme0", 0, ErrNamespaceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, err := FindNamespace([]byte(tt.data), tt.dev)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, ns.PhysicalSize)
		})
	}
}

func TestFindNamespaceBadJSON(t *testing.T) {
	_, err := FindNamespace([]byte("not json"), "/dev/nvme0n1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNamespaceNotFound)
}

func TestParseIDCtrl(t *testing.T) {
	data := `{"vid":5197,"ssvid":5197,"sn":"S4EWNF0M123456      ","mn":"Samsung SSD 970 EVO Plus 1TB            ","fr":"2B2QEXM7","vwc":7}`

	id, err := ParseIDCtrl([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "S4EWNF0M123456", id.Serial)
	assert.Equal(t, "Samsung SSD 970 EVO Plus 1TB", id.Model)
	assert.Equal(t, "2B2QEXM7", id.Firmware)
	assert.True(t, id.VolatileWriteCache)

	_, err = ParseIDCtrl([]byte("{"))
	assert.Error(t, err)
}

func TestClientCommandLines(t *testing.T) {
	fake := shell.NewFake().On("nvme", "", func(_ context.Context, c shell.Command) (*shell.Result, error) {
		return &shell.Result{Stdout: []byte("{}")}, nil
	})
	c := NewClient(fake, "/usr/sbin/nvme")
	ctx := context.Background()

	_, err := c.List(ctx)
	require.NoError(t, err)
	_, err = c.IDCtrl(ctx, "/dev/nvme0n1")
	require.NoError(t, err)
	_, err = c.SmartLog(ctx, "/dev/nvme0n1")
	require.NoError(t, err)
	_, err = c.GetFeature(ctx, "/dev/nvme0n1", 0x07)
	require.NoError(t, err)
	_, err = c.SetFeature(ctx, "/dev/nvme0n1", FeatureVolatileWriteCache, 1)
	require.NoError(t, err)
	_, err = c.Format(ctx, "/dev/nvme0n1")
	require.NoError(t, err)

	want := [][]string{
		{"list", "--output-format=json", "--verbose"},
		{"id-ctrl", "--output-format=json", "/dev/nvme0n1"},
		{"smart-log", "--output-format=json", "/dev/nvme0n1"},
		{"get-feature", "--human-readable", "--feature-id=0x07", "/dev/nvme0n1"},
		{"set-feature", "--feature-id=0x06", "--value=0x1", "/dev/nvme0n1"},
		{"format", "-f", "-l0", "/dev/nvme0n1"},
	}

	calls := fake.Calls()
	require.Len(t, calls, len(want))
	for i, call := range calls {
		assert.Equal(t, "/usr/sbin/nvme", call.Name)
		assert.True(t, call.Sudo, "nvme always runs privileged")
		assert.Equal(t, want[i], call.Args)
	}
}

func TestClientNamespace(t *testing.T) {
	fake := shell.NewFake().Stdout("nvme", "list", listV1)
	ns, res, err := NewClient(fake, "").Namespace(context.Background(), "/dev/nvme0n1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "nvme0n1", ns.NameSpace)
	assert.Equal(t, 512, ns.SectorSize)
}

func TestClientFeatures(t *testing.T) {
	fake := shell.NewFake().On("nvme", "get-feature", func(_ context.Context, c shell.Command) (*shell.Result, error) {
		fid := shell.ArgValue(c.Args, "--feature-id")
		out := fmt.Sprintf("get-feature:%s (Some Feature), Current value:0x00000001\n\tEnable (EN): True\n", fid)
		return &shell.Result{Stdout: []byte(out)}, nil
	})

	features, err := NewClient(fake, "nvme").Features(context.Background(), "/dev/nvme0n1")
	require.NoError(t, err)
	require.Len(t, features, len(FeatureIDs))
	assert.Equal(t, "0x01", features[0].FID)
	assert.Equal(t, "0x0a", features[len(features)-1].FID)
	assert.Equal(t, "EN", features[4].HumanReadable[0].Short)
}

func TestClientFeaturesUnparsable(t *testing.T) {
	fake := shell.NewFake().Stdout("nvme", "get-feature", "NVMe status: INVALID_FIELD")
	_, err := NewClient(fake, "nvme").Features(context.Background(), "/dev/nvme0n1")
	assert.ErrorIs(t, err, ErrUnexpectedOutput)
}

func TestClientPropagatesFailure(t *testing.T) {
	_, err := NewClient(shell.NewFake(), "nvme").SmartLog(context.Background(), "/dev/nvme0n1")
	assert.ErrorIs(t, err, shell.ErrCommandFailed)
}
