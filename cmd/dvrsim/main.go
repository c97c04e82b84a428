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

// cmd/dvrsim/main.go
package main

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/carverauto/dvrsync/pkg/session"
	"github.com/carverauto/dvrsync/pkg/trust"
)

const (
	sessionCookieName = "dvrsim_session"
	sessionTokenBytes = 16

	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second

	churnCameraName = "Roaming Camera"
)

var resolutions = []string{"1920x1080", "1280x720", "704x480", ""}

type deviceXML struct {
	XMLName    xml.Name `xml:"device"`
	ID         string   `xml:"id,attr"`
	Name       string   `xml:"name"`
	Protocol   string   `xml:"protocol"`
	Resolution string   `xml:"resolution,omitempty"`
	PTZ        int      `xml:"ptz"`
	Disabled   int      `xml:"disabled"`
}

type devicesXML struct {
	XMLName xml.Name    `xml:"devices"`
	Devices []deviceXML `xml:"device"`
}

type statsXML struct {
	XMLName       xml.Name `xml:"stats"`
	Message       string   `xml:"message"`
	ServerRunning string   `xml:"server-running"`
}

// simulator holds the fake DVR's state. Handlers read it under the
// lock; the churn goroutine mutates it.
type simulator struct {
	mu       sync.RWMutex
	cameras  []deviceXML
	churnOn  bool
	churnID  int
	sessions map[string]time.Time

	username   string
	password   string
	sessionTTL time.Duration
	statsDown  bool
	malformed  bool
	message    string
}

func newSimulator(cameraCount int, username, password string, sessionTTL time.Duration, statsDown, malformed bool, message string) *simulator {
	sim := &simulator{
		cameras:    make([]deviceXML, 0, cameraCount),
		churnID:    cameraCount + 1,
		sessions:   make(map[string]time.Time),
		username:   username,
		password:   password,
		sessionTTL: sessionTTL,
		statsDown:  statsDown,
		malformed:  malformed,
		message:    message,
	}

	for i := 1; i <= cameraCount; i++ {
		sim.cameras = append(sim.cameras, deviceXML{
			ID:         strconv.Itoa(i),
			Name:       fmt.Sprintf("Camera %d", i),
			Protocol:   "IP-RTSP",
			Resolution: resolutions[(i-1)%len(resolutions)],
			PTZ:        boolToFlag(i%4 == 0),
			Disabled:   0,
		})
	}

	return sim
}

func boolToFlag(b bool) int {
	if b {
		return 1
	}

	return 0
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

func (s *simulator) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if r.PostFormValue("username") != s.username || r.PostFormValue("password") != s.password {
		log.Printf("Rejected login for user %q from %s", r.PostFormValue("username"), r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	token, err := newSessionToken()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[token] = time.Now()
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
	})

	log.Printf("Session established for user %q from %s", s.username, r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
}

func (s *simulator) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}

	w.WriteHeader(http.StatusOK)
}

// authorized validates the session cookie, expiring stale sessions
// when a TTL is configured. It writes the 401 itself.
func (s *simulator) authorized(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}

	s.mu.Lock()
	created, ok := s.sessions[cookie.Value]

	if ok && s.sessionTTL > 0 && time.Since(created) > s.sessionTTL {
		delete(s.sessions, cookie.Value)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}

	return true
}

func (s *simulator) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	s.mu.RLock()

	doc := devicesXML{}

	if s.malformed {
		// An entry without a numeric id; clients drop it and keep the rest.
		doc.Devices = append(doc.Devices, deviceXML{ID: "broken", Name: "Ghost"})
	}

	doc.Devices = append(doc.Devices, s.cameras...)

	if s.churnOn {
		doc.Devices = append(doc.Devices, deviceXML{
			ID:         strconv.Itoa(s.churnID),
			Name:       churnCameraName,
			Protocol:   "IP-RTSP",
			Resolution: "1280x720",
		})
	}

	s.mu.RUnlock()

	writeXML(w, doc)
}

func (s *simulator) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	doc := statsXML{
		Message:       s.message,
		ServerRunning: "up",
	}

	if s.statsDown {
		doc.ServerRunning = "down"
	}

	writeXML(w, doc)
}

func writeXML(w http.ResponseWriter, doc interface{}) {
	out, err := xml.Marshal(doc)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

// churn toggles one extra camera in and out of the device list so
// clients see add and remove transitions.
func (s *simulator) churn(interval time.Duration) {
	log.Printf("Churn enabled: %q joins and leaves every %s", churnCameraName, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		s.churnOn = !s.churnOn
		state := s.churnOn
		s.mu.Unlock()

		if state {
			log.Printf("Churn: camera %d joined", s.churnID)
		} else {
			log.Printf("Churn: camera %d left", s.churnID)
		}
	}
}

// certHosts derives the certificate SANs from the listen address.
func certHosts(addr string) []string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return []string{"127.0.0.1", "localhost"}
	}

	return []string{host, "localhost"}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:7001", "listen address")
	cameraCount := flag.Int("cameras", 8, "number of cameras to advertise")
	churn := flag.Duration("churn", 0, "interval for one camera to join and leave (0 disables)")
	statsDown := flag.Bool("stats-down", false, "report the recording process as down")
	malformed := flag.Bool("malformed", false, "include a device entry without a numeric id")
	message := flag.String("message", "", "alert message to serve in stats replies")
	username := flag.String("username", "admin", "accepted username")
	password := flag.String("password", "admin", "accepted password")
	sessionTTL := flag.Duration("session-ttl", 0, "expire sessions after this long (0 disables)")
	flag.Parse()

	sim := newSimulator(*cameraCount, *username, *password, *sessionTTL, *statsDown, *malformed, *message)

	cert, leaf, err := trust.GenerateSelfSigned("dvrsim", certHosts(*addr)...)
	if err != nil {
		log.Fatalf("Failed to generate certificate: %v", err)
	}

	log.Printf("Certificate fingerprint: %s", trust.FingerprintOf(leaf).Display())

	mux := http.NewServeMux()
	mux.HandleFunc("/login", sim.handleLogin)
	mux.HandleFunc("/logout", sim.handleLogout)
	mux.HandleFunc(session.DevicesPath, sim.handleDevices)
	mux.HandleFunc(session.StatsPath, sim.handleStats)

	server := &http.Server{
		Addr:    *addr,
		Handler: mux,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	if *churn > 0 {
		go sim.churn(*churn)
	}

	log.Printf("dvrsim serving %d cameras on https://%s", *cameraCount, *addr)

	if err := server.ListenAndServeTLS("", ""); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
