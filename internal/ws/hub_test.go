package ws

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Tenosiey/Murmer/internal/models"
)

func TestRegisterUserTracksPresence(t *testing.T) {
	h := testHub(t, newFakeStore())
	h.RegisterUser("mallory")
	h.RegisterUser("alice")

	online, all := h.userLists()
	if !reflect.DeepEqual(online, []string{"alice", "mallory"}) {
		t.Fatalf("online = %v, want sorted [alice mallory]", online)
	}
	if !reflect.DeepEqual(all, []string{"alice", "mallory"}) {
		t.Fatalf("all = %v, want sorted [alice mallory]", all)
	}
	if got := h.statusSnapshot()["alice"]; got != "online" {
		t.Fatalf("status = %q, want online", got)
	}

	// Known users survive going offline so late joiners can still render them.
	h.removeOnline("alice")
	online, all = h.userLists()
	if !reflect.DeepEqual(online, []string{"mallory"}) {
		t.Fatalf("online after remove = %v, want [mallory]", online)
	}
	if !reflect.DeepEqual(all, []string{"alice", "mallory"}) {
		t.Fatalf("all after remove = %v, want [alice mallory]", all)
	}
}

func TestCanManageWithoutAdminToken(t *testing.T) {
	h := testHub(t, newFakeStore())
	if !h.CanManage("anyone") {
		t.Fatal("every user may manage channels when no admin token is set")
	}
}

func TestCanManageWithAdminToken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AdminToken = "secret"
	h := NewHub(newFakeStore(), cfg)

	if h.CanManage("bob") {
		t.Fatal("user without a role must not manage channels")
	}
	h.SetUserRole("bob", models.RoleInfo{Role: "mod"})
	if !h.CanManage("bob") {
		t.Fatal("privileged roles match case-insensitively")
	}
	h.SetUserRole("eve", models.RoleInfo{Role: "Member"})
	if h.CanManage("eve") {
		t.Fatal("unprivileged roles must not manage channels")
	}
}

func TestApplyRoleUpdatesUsersSharingKey(t *testing.T) {
	h := testHub(t, newFakeStore())
	h.setUserKey("alice", "KEYA")
	h.setUserKey("bob", "KEYA")
	h.setUserKey("carol", "KEYB")

	sink := make(chan any, 8)
	h.Global().Subscribe(sink, nil)

	color := "#ff0000"
	h.ApplyRole("KEYA", "Admin", &color)

	roles := h.roleSnapshot()
	for _, user := range []string{"alice", "bob"} {
		info, ok := roles[user]
		if !ok || info.Role != "Admin" || info.Color == nil || *info.Color != "#ff0000" {
			t.Fatalf("role for %s = %+v, want Admin #ff0000", user, info)
		}
	}
	if _, ok := roles["carol"]; ok {
		t.Fatal("users with a different key must not be touched")
	}

	if got := len(sink); got != 2 {
		t.Fatalf("broadcast %d role updates, want 2", got)
	}
	first, ok := (<-sink).(RoleUpdateFrame)
	if !ok || first.User != "alice" || first.Role != "Admin" {
		t.Fatalf("first broadcast = %+v, want role update for alice", first)
	}
}

func TestJoinVoiceExclusivity(t *testing.T) {
	h := testHub(t, newFakeStore())

	vacated, created, info := h.JoinVoice("alice", "Lounge")
	if len(vacated) != 0 || !created {
		t.Fatalf("first join: vacated %v, created %v, want none and true", vacated, created)
	}
	if info.Quality != defaultVoiceQuality || info.Bitrate == nil || *info.Bitrate != defaultVoiceBitrate {
		t.Fatalf("room defaults = %+v, want %s at %d", info, defaultVoiceQuality, defaultVoiceBitrate)
	}

	vacated, _, _ = h.JoinVoice("alice", "Focus")
	if !reflect.DeepEqual(vacated, []string{"Lounge"}) {
		t.Fatalf("vacated = %v, want [Lounge]", vacated)
	}
	if users := h.voiceUsers("Lounge"); len(users) != 0 {
		t.Fatalf("Lounge still holds %v", users)
	}
	if users := h.voiceUsers("Focus"); !reflect.DeepEqual(users, []string{"alice"}) {
		t.Fatalf("Focus holds %v, want [alice]", users)
	}

	vacated, created, _ = h.JoinVoice("alice", "Focus")
	if len(vacated) != 0 || created {
		t.Fatal("rejoining the current room must not vacate or recreate it")
	}
}

func TestLeaveVoiceAndRemoveFromVoice(t *testing.T) {
	h := testHub(t, newFakeStore())
	h.JoinVoice("alice", "Lounge")
	h.JoinVoice("bob", "Lounge")

	h.LeaveVoice("alice", "Lounge")
	if users := h.voiceUsers("Lounge"); !reflect.DeepEqual(users, []string{"bob"}) {
		t.Fatalf("after leave Lounge holds %v, want [bob]", users)
	}

	room, ok := h.removeFromVoice("bob")
	if !ok || room != "Lounge" {
		t.Fatalf("removeFromVoice = %q, %v, want Lounge, true", room, ok)
	}
	if _, ok := h.removeFromVoice("bob"); ok {
		t.Fatal("second removal must report absence")
	}
}

func TestVoiceRoomLifecycle(t *testing.T) {
	h := testHub(t, newFakeStore())
	bitrate := int32(128_000)

	if !h.createVoiceRoom("Lounge", "high", &bitrate) {
		t.Fatal("first create should succeed")
	}
	if h.createVoiceRoom("Lounge", "low", nil) {
		t.Fatal("duplicate create should fail")
	}

	info, ok := h.voiceRoomInfo("Lounge")
	if !ok || info.Quality != "high" || info.Bitrate == nil || *info.Bitrate != 128_000 {
		t.Fatalf("room info = %+v, want high at 128000", info)
	}

	updated, ok := h.updateVoiceRoom("Lounge", "low", nil)
	if !ok || updated.Quality != "low" || updated.Bitrate != nil {
		t.Fatalf("updated info = %+v, want low with cleared bitrate", updated)
	}
	if _, ok := h.updateVoiceRoom("Ghost", "low", nil); ok {
		t.Fatal("updating an unknown room must fail")
	}

	list := h.voiceRoomList()
	if len(list) != 1 || list[0].Name != "Lounge" {
		t.Fatalf("room list = %v, want just Lounge", list)
	}

	h.removeVoiceRoom("Lounge")
	if len(h.voiceRoomList()) != 0 {
		t.Fatal("removed room should vanish from the list")
	}
}

func TestLoadVoiceChannels(t *testing.T) {
	store := newFakeStore()
	bitrate := int32(96_000)
	store.voice = []models.VoiceChannel{
		{Name: "Lounge", Quality: "high", Bitrate: &bitrate},
		{Name: "Focus", Quality: "standard", Bitrate: nil},
	}
	h := testHub(t, store)

	if err := h.LoadVoiceChannels(context.Background()); err != nil {
		t.Fatalf("LoadVoiceChannels: %v", err)
	}

	list := h.voiceRoomList()
	if len(list) != 2 || list[0].Name != "Focus" || list[1].Name != "Lounge" {
		t.Fatalf("room list = %v, want [Focus Lounge]", list)
	}
	info, ok := h.voiceRoomInfo("Lounge")
	if !ok || info.Quality != "high" || info.Bitrate == nil || *info.Bitrate != 96_000 {
		t.Fatalf("Lounge info = %+v, want high at 96000", info)
	}
}

func TestVoiceMembershipsIncludeEmptyRooms(t *testing.T) {
	h := testHub(t, newFakeStore())
	h.createVoiceRoom("Lounge", defaultVoiceQuality, nil)
	h.JoinVoice("alice", "Focus")

	memberships := h.voiceMemberships()
	if users, ok := memberships["Lounge"]; !ok || len(users) != 0 {
		t.Fatalf("Lounge membership = %v, %v, want present and empty", users, ok)
	}
	if users := memberships["Focus"]; !reflect.DeepEqual(users, []string{"alice"}) {
		t.Fatalf("Focus membership = %v, want [alice]", users)
	}
}

func TestBroadcastVoiceUsersUnknownRoom(t *testing.T) {
	h := testHub(t, newFakeStore())
	sink := make(chan any, 2)
	h.Global().Subscribe(sink, nil)

	h.BroadcastVoiceUsers("Ghost")

	frame, ok := (<-sink).(VoiceUsersFrame)
	if !ok || frame.Channel != "Ghost" {
		t.Fatalf("frame = %+v, want voice-users for Ghost", frame)
	}
	if frame.Users == nil || len(frame.Users) != 0 {
		t.Fatalf("users = %#v, want an empty list so clients clear stale state", frame.Users)
	}
}

func TestScheduleEphemeralDelete(t *testing.T) {
	store := newFakeStore()
	id, err := store.InsertMessage(context.Background(), "general", `{"user":"alice","text":"gone soon"}`)
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	h := testHub(t, store)
	sink := make(chan any, 2)
	h.ChannelBus("general").Subscribe(sink, nil)

	h.scheduleEphemeralDelete("general", id, time.Now().Add(-time.Second))

	select {
	case f := <-sink:
		frame, ok := f.(MessageDeletedFrame)
		if !ok || frame.ID != id || frame.Channel != "general" {
			t.Fatalf("frame = %+v, want message-deleted for id %d", f, id)
		}
	default:
		t.Fatal("expected a message-deleted broadcast")
	}
	if _, found, _ := store.MessageChannel(context.Background(), id); found {
		t.Fatal("expired message should be removed from the store")
	}

	// A second sweep of the same id deletes nothing and stays silent.
	h.scheduleEphemeralDelete("general", id, time.Now().Add(-time.Second))
	if got := len(sink); got != 0 {
		t.Fatalf("redundant sweep broadcast %d frames, want 0", got)
	}
}
