// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"sync"

	"github.com/hashicorp/cap-accounts/oidc"
)

type user struct {
	id       string
	profile  oidc.Profile
	services map[string]*oidc.UserServiceData
}

// userStore is an in-memory oidc.UserStore.
type userStore struct {
	m     sync.Mutex
	users map[string]*user
	// byService indexes user ids by "<service>/<service id>"
	byService map[string]string
}

var _ oidc.UserStore = (*userStore)(nil)

func newUserStore() *userStore {
	return &userStore{
		users:     map[string]*user{},
		byService: map[string]string{},
	}
}

// UpdateOrCreate merges data into the service record of the user it
// belongs to, or creates that user. Fields absent from data are kept.
func (s *userStore) UpdateOrCreate(_ context.Context, service string, data *oidc.UserServiceData, opts *oidc.CreateUserOptions) (string, error) {
	s.m.Lock()
	defer s.m.Unlock()
	key := service + "/" + data.ID
	if id, ok := s.byService[key]; ok {
		u := s.users[id]
		existing, ok := u.services[service]
		if !ok {
			u.services[service] = cloneServiceData(data)
			return id, nil
		}
		if existing.Fields == nil {
			existing.Fields = map[string]any{}
		}
		for k, v := range data.Fields {
			existing.Fields[k] = v
		}
		return id, nil
	}
	id, err := oidc.NewID(oidc.WithPrefix("u"))
	if err != nil {
		return "", err
	}
	s.users[id] = &user{
		id:       id,
		profile:  opts.Profile,
		services: map[string]*oidc.UserServiceData{service: cloneServiceData(data)},
	}
	s.byService[key] = id
	return id, nil
}

func cloneServiceData(d *oidc.UserServiceData) *oidc.UserServiceData {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return &oidc.UserServiceData{ID: d.ID, Fields: fields}
}
