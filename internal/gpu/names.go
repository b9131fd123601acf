package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

var vendorLabels = map[Vendor]string{
	VendorIntel:  "Intel",
	VendorAMD:    "AMD",
	VendorNvidia: "NVIDIA",
}

// lookupGPUName resolves a display name from the PCI ids database.
func lookupGPUName(vendorID, deviceID, subVendorID, subDeviceID string) string {
	return resolveName(loadPCIDatabase(), vendorID, deviceID, subVendorID, subDeviceID)
}

// resolveName prefers the bracketed marketing name of the product entry
// ("TU117M [GeForce GTX 1650 Mobile / Max-Q]" gives "NVIDIA GeForce GTX 1650
// Mobile / Max-Q"). Board subsystem names are used for AMD and Intel only:
// NVIDIA subsystem entries name the laptop, not the GPU. Known vendors missing
// from the database get a generic "<vendor> GPU [vvvv:dddd]" name; unknown
// ones resolve to "".
func resolveName(db *pcidb.PCIDB, vendorID, deviceID, subVendorID, subDeviceID string) string {
	vendorID = normalizePCIID(vendorID)
	deviceID = normalizePCIID(deviceID)
	if vendorID == "" || deviceID == "" {
		return ""
	}
	vendor := vendorFromID(vendorID)
	label := vendorLabels[vendor]

	var product *pcidb.Product
	if db != nil {
		product = db.Products[vendorID+deviceID]
	}
	if product == nil || product.Name == "" {
		if label == "" {
			return ""
		}
		return label + " GPU [" + vendorID + ":" + deviceID + "]"
	}

	if vendor != VendorNvidia {
		if name := subsystemName(product, subVendorID, subDeviceID); name != "" {
			return name
		}
	}
	return withVendor(label, marketingName(product.Name))
}

func subsystemName(product *pcidb.Product, subVendorID, subDeviceID string) string {
	subVendorID = normalizePCIID(subVendorID)
	subDeviceID = normalizePCIID(subDeviceID)
	if subVendorID == "" || subDeviceID == "" {
		return ""
	}
	for _, subsystem := range product.Subsystems {
		if subsystem == nil || subsystem.Name == "" {
			continue
		}
		if strings.EqualFold(subsystem.VendorID, subVendorID) && strings.EqualFold(subsystem.ID, subDeviceID) {
			return subsystem.Name
		}
	}
	return ""
}

// marketingName returns the last bracketed segment of a pci.ids product name,
// or the whole name when it has none.
func marketingName(name string) string {
	name = strings.TrimSpace(name)
	open := strings.LastIndex(name, "[")
	if open < 0 || !strings.HasSuffix(name, "]") {
		return name
	}
	if inner := strings.TrimSpace(name[open+1 : len(name)-1]); inner != "" {
		return inner
	}
	return name
}

func withVendor(label, name string) string {
	if label == "" || strings.HasPrefix(strings.ToLower(name), strings.ToLower(label)) {
		return name
	}
	return label + " " + name
}

func loadPCIDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil || pciDB == nil {
		return nil
	}
	return pciDB
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func splitPCIIdentifier(pciID string) (vendorID string, deviceID string) {
	vendorID, deviceID, ok := strings.Cut(pciID, ":")
	if !ok {
		return "", ""
	}
	return vendorID, deviceID
}
