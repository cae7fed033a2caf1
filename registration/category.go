package registration

import (
	"strings"

	"github.com/openstack-archive/namos/model"
)

var componentCategories = map[string]string{
	"nova-api":               model.CategoryController,
	"nova-scheduler":         model.CategoryController,
	"nova-conductor":         model.CategoryController,
	"nova-consoleauth":       model.CategoryController,
	"nova-novncproxy":        model.CategoryController,
	"nova-cert":              model.CategoryController,
	"nova-compute":           model.CategoryCompute,
	"cinder-api":             model.CategoryController,
	"cinder-scheduler":       model.CategoryController,
	"cinder-volume":          model.CategoryStorage,
	"cinder-backup":          model.CategoryStorage,
	"glance-api":             model.CategoryController,
	"glance-registry":        model.CategoryController,
	"neutron-server":         model.CategoryController,
	"neutron-dhcp-agent":     model.CategoryNetwork,
	"neutron-l3-agent":       model.CategoryNetwork,
	"neutron-metadata-agent": model.CategoryNetwork,
	"heat-api":               model.CategoryController,
	"heat-api-cfn":           model.CategoryController,
	"heat-engine":            model.CategoryController,
	"keystone-all":           model.CategoryController,
	"swift-proxy-server":     model.CategoryController,
	"swift-account-server":   model.CategoryStorage,
	"swift-container-server": model.CategoryStorage,
	"swift-object-server":    model.CategoryStorage,
	"trove-api":              model.CategoryController,
	"trove-taskmanager":      model.CategoryController,
	"namos-manager":          model.CategoryController,
}

// Category returns the component category for a program name. Unlisted
// programs fall back on name patterns, then controller.
func Category(progName string) string {
	name := strings.ToLower(progName)
	if c, ok := componentCategories[name]; ok {
		return c
	}
	switch {
	case strings.Contains(name, "compute"):
		return model.CategoryCompute
	case strings.HasSuffix(name, "-agent"):
		return model.CategoryNetwork
	case strings.Contains(name, "volume"), strings.Contains(name, "backup"), strings.Contains(name, "object"):
		return model.CategoryStorage
	default:
		return model.CategoryController
	}
}
