/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package snapshot parses the XML documents a DVR server returns for
// its device list and stats endpoints.
package snapshot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/carverauto/dvrsync/pkg/models"
)

// ErrNoDevicesElement marks a reply without the devices container.
// Such a reply is dropped whole; the registry stays untouched.
var ErrNoDevicesElement = errors.New("invalid format: no devices element")

// DeviceList is one successfully parsed device snapshot. Order
// preserves first encounter in the document; duplicate ids update the
// earlier entry in place.
type DeviceList struct {
	Order   []int
	Devices map[int]models.Camera
}

// Cameras returns the devices in document order.
func (l *DeviceList) Cameras() []models.Camera {
	out := make([]models.Camera, 0, len(l.Order))
	for _, id := range l.Order {
		out = append(out, l.Devices[id])
	}

	return out
}

// Has reports whether the snapshot contains the identity.
func (l *DeviceList) Has(id int) bool {
	_, ok := l.Devices[id]
	return ok
}

// Len returns the number of distinct identities in the snapshot.
func (l *DeviceList) Len() int {
	return len(l.Order)
}

// ParseDevices decodes a device-list reply. Entries without a numeric
// id attribute are skipped; a malformed field inside an identified
// entry fails the whole snapshot, as does a missing devices container.
func ParseDevices(data []byte) (*DeviceList, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	if err := seekDevicesElement(dec); err != nil {
		return nil, err
	}

	list := &DeviceList{
		Devices: make(map[int]models.Camera),
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return list, nil
		}

		if err != nil {
			return nil, fmt.Errorf("device parsing failed: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if start.Name.Local != "device" {
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("device parsing failed: %w", err)
			}

			continue
		}

		id, ok := deviceID(start)
		if !ok {
			// No usable identity; drop the entry, keep the snapshot.
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("device parsing failed: %w", err)
			}

			continue
		}

		camera, err := parseDeviceFields(dec, id)
		if err != nil {
			return nil, err
		}

		if _, known := list.Devices[id]; !known {
			list.Order = append(list.Order, id)
		}

		list.Devices[id] = camera
	}
}

// seekDevicesElement advances to the devices container or fails.
func seekDevicesElement(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return ErrNoDevicesElement
		}

		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local != "devices" {
				return ErrNoDevicesElement
			}

			return nil
		}
	}
}

// deviceID extracts the numeric identity attribute.
func deviceID(start xml.StartElement) (int, bool) {
	for _, attr := range start.Attr {
		if attr.Name.Local != "id" {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(attr.Value))
		if err != nil {
			return 0, false
		}

		return id, true
	}

	return 0, false
}

// parseDeviceFields consumes the children of one device element.
func parseDeviceFields(dec *xml.Decoder, id int) (models.Camera, error) {
	camera := models.Camera{ID: id}

	for {
		tok, err := dec.Token()
		if err != nil {
			return camera, fmt.Errorf("device %d parsing failed: %w", id, err)
		}

		switch el := tok.(type) {
		case xml.EndElement:
			if el.Name.Local == "device" {
				camera.Online = !camera.Disabled
				return camera, nil
			}
		case xml.StartElement:
			var text string
			if err := dec.DecodeElement(&text, &el); err != nil {
				return camera, fmt.Errorf("device %d parsing failed: %w", id, err)
			}

			if err := applyDeviceField(&camera, el.Name.Local, strings.TrimSpace(text)); err != nil {
				return camera, err
			}
		}
	}
}

// applyDeviceField maps one child element onto the camera. Unknown
// elements are ignored so newer servers can add fields freely.
func applyDeviceField(camera *models.Camera, field, value string) error {
	switch field {
	case "name":
		camera.Name = value
	case "protocol":
		camera.Protocol = value
	case "resolution":
		if value == "" {
			return nil
		}

		w, h, err := parseResolution(value)
		if err != nil {
			return fmt.Errorf("device %d: %w", camera.ID, err)
		}

		camera.ResolutionX = w
		camera.ResolutionY = h
	case "ptz":
		flag, err := parseFlag(value)
		if err != nil {
			return fmt.Errorf("device %d: invalid ptz flag %q", camera.ID, value)
		}

		camera.PTZ = flag
	case "disabled":
		flag, err := parseFlag(value)
		if err != nil {
			return fmt.Errorf("device %d: invalid disabled flag %q", camera.ID, value)
		}

		camera.Disabled = flag
	}

	return nil
}

var errBadResolution = errors.New("invalid resolution")

func parseResolution(value string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(value), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w %q", errBadResolution, value)
	}

	width, err = strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q", errBadResolution, value)
	}

	height, err = strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q", errBadResolution, value)
	}

	return width, height, nil
}

func parseFlag(value string) (bool, error) {
	switch value {
	case "", "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return strconv.ParseBool(value)
	}
}
